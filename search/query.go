// Package search maintains a local full-text index over the mirrored
// messages so the client can find history without a server round
// trip. The index is a by-product of reconciliation and is rebuilt
// from scratch on every login.
package search

import (
	"strconv"
	"strings"

	"chat-sync/domain"
)

const defaultLimit = 10

// Query represents the structured parameters of a message search. It
// decouples the raw chat input from the index engine requirements.
type Query struct {
	RawInput  string
	Terms     string
	ChannelID domain.ChannelID // zero searches every channel
	Limit     int
}

// ParseQuery extracts command-line style arguments from a raw input.
// Example: /find invoice --channel 2 --limit 5
func ParseQuery(input string) *Query {
	query := &Query{
		RawInput: input,
		Limit:    defaultLimit,
	}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			key := strings.TrimPrefix(part, "--")
			val := parts[i+1]
			switch key {
			case "channel":
				if id, err := strconv.Atoi(val); err == nil {
					query.ChannelID = domain.ChannelID(id)
				}
			case "limit":
				if n, err := strconv.Atoi(val); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++
			continue
		}

		if !strings.HasPrefix(part, "/") {
			textTerms = append(textTerms, part)
		}
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}
