package domain

// UniqueKey builds the deterministic idempotence key of a queue item:
// context_slug|content_type|lang|identifier.
func UniqueKey(contextSlug, contentType, lang, identifier string) string {
	return contextSlug + "|" + contentType + "|" + lang + "|" + identifier
}

// DistributionIdentifier is the key fragment of a fan-out item.
func DistributionIdentifier(postID string, ch Channel) string {
	return postID + ":" + string(ch)
}
