package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ManualEnqueueRequest is the inbound payload for an operator-queued item.
type ManualEnqueueRequest struct {
	ContextID      string          `json:"context_id"`
	ContentType    string          `json:"content_type"`
	Lang           string          `json:"lang"`
	Channel        Channel         `json:"channel,omitempty"`
	SourceRef      json.RawMessage `json:"source_ref,omitempty"`
	Priority       *int            `json:"priority,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	AllowDuplicate bool            `json:"allow_duplicate"`
}

var (
	errMissingContext     = errors.New("context_id is required")
	errMissingContentType = errors.New("content_type is required")
	errMissingLang        = errors.New("lang is required")
	errSourceRefNotJSON   = errors.New("source_ref must be valid JSON")
)

// ErrInvalidRequest wraps every validation failure of ManualEnqueueRequest.
var ErrInvalidRequest = errors.New("invalid request")

func (r *ManualEnqueueRequest) Validate() error {
	switch {
	case r.ContextID == "":
		return errors.Join(ErrInvalidRequest, errMissingContext)
	case r.ContentType == "":
		return errors.Join(ErrInvalidRequest, errMissingContentType)
	case r.Lang == "":
		return errors.Join(ErrInvalidRequest, errMissingLang)
	case len(r.SourceRef) > 0 && !json.Valid(r.SourceRef):
		return errors.Join(ErrInvalidRequest, errSourceRefNotJSON)
	}
	return nil
}

// SourceRefKey extracts the optional "key" identifier from a manual source_ref.
func (r *ManualEnqueueRequest) SourceRefKey() string {
	if len(r.SourceRef) == 0 {
		return ""
	}
	var probe struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(r.SourceRef, &probe); err != nil {
		return ""
	}
	return probe.Key
}
