package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"

	"order-splitter/internal/pipeline"
)

// IngestResultHeader carries the ingest outcome on webhook responses as an
// RFC 8941 dictionary, so callers that ignore bodies can still log it.
//
//	Ingest-Result: status=created, record="4f7c..."
//	Ingest-Result: status=already_processed, record="4f7c..."
//	Ingest-Result: status=ignored
const IngestResultHeader = "Ingest-Result"

// FormatIngestResult encodes res for IngestResultHeader.
func FormatIngestResult(res pipeline.IngestResult) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("status", httpsfv.NewItem(httpsfv.Token(res.Status)))
	if res.BatchRecordID != "" {
		dict.Add("record", httpsfv.NewItem(res.BatchRecordID))
	}
	return httpsfv.Marshal(dict)
}

// ParseIngestResult decodes an IngestResultHeader value.
// Returns error if the header is empty, malformed, or missing status.
func ParseIngestResult(header string) (pipeline.IngestResult, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return pipeline.IngestResult{}, errors.New("empty Ingest-Result header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return pipeline.IngestResult{}, fmt.Errorf("invalid Ingest-Result header: %w", err)
	}

	member, ok := dict.Get("status")
	if !ok {
		return pipeline.IngestResult{}, errors.New("status key not found in Ingest-Result header")
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return pipeline.IngestResult{}, errors.New("status value must be an item")
	}
	status, ok := item.Value.(httpsfv.Token)
	if !ok {
		return pipeline.IngestResult{}, errors.New("status value must be a token")
	}

	res := pipeline.IngestResult{Status: pipeline.IngestStatus(status)}

	if member, ok := dict.Get("record"); ok {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return pipeline.IngestResult{}, errors.New("record value must be an item")
		}
		id, ok := item.Value.(string)
		if !ok {
			return pipeline.IngestResult{}, errors.New("record value must be a string")
		}
		res.BatchRecordID = id
	}

	return res, nil
}
