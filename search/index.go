package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/blugelabs/bluge"

	"chat-sync/domain"
)

// Index wraps a bluge writer holding one document per mirrored
// message. In-memory only: the lifetime is the session's.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &Index{writer: writer, log: log}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

// Add indexes one message, replacing any previous document with the
// same id so duplicate delivery stays harmless.
func (i *Index) Add(m domain.Message) error {
	doc := bluge.NewDocument(strconv.Itoa(m.ID)).
		AddField(bluge.NewTextField("body", m.Body).StoreValue()).
		AddField(bluge.NewKeywordField("username", m.Username).StoreValue()).
		AddField(bluge.NewKeywordField("channel", strconv.Itoa(int(m.ChannelID))).StoreValue())
	return i.writer.Update(doc.ID(), doc)
}

// Consume implements the reconciler's message sink.
func (i *Index) Consume(_ context.Context, m domain.Message) error {
	return i.Add(m)
}

// Search runs a parsed query and reconstructs the matching messages
// from stored fields, best first.
func (i *Index) Search(ctx context.Context, q *Query) ([]domain.Message, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening index reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(q.Terms).SetField("body"))
	if q.ChannelID != 0 {
		query.AddMust(bluge.NewTermQuery(strconv.Itoa(int(q.ChannelID))).SetField("channel"))
	}

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(q.Limit, query))
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", q.Terms, err)
	}

	var results []domain.Message
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			return results, nil
		}

		var m domain.Message
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				m.ID, _ = strconv.Atoi(string(value))
			case "body":
				m.Body = string(value)
			case "username":
				m.Username = string(value)
			case "channel":
				id, _ := strconv.Atoi(string(value))
				m.ChannelID = domain.ChannelID(id)
			}
			return true
		})
		if err != nil {
			i.log.Debug("Skipping unreadable match", "error", err)
			continue
		}
		results = append(results, m)
	}
}

// purgePageSize bounds how many matches a single purge pass collects.
var purgePageSize = 1000

// PurgeChannel drops every indexed message of one channel, mirroring
// the store's cascade delete. Matches come back one page at a time,
// so the loop keeps searching with a fresh reader until the channel
// term finds nothing left.
func (i *Index) PurgeChannel(ctx context.Context, channelID domain.ChannelID) error {
	query := bluge.NewTermQuery(strconv.Itoa(int(channelID))).SetField("channel")
	for {
		ids, err := i.matchingIDs(ctx, query)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			doc := bluge.NewDocument(id)
			if err := i.writer.Delete(doc.ID()); err != nil {
				return err
			}
		}
	}
}

func (i *Index) matchingIDs(ctx context.Context, query bluge.Query) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(purgePageSize, query))
	if err != nil {
		return nil, err
	}

	var ids []string
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			return ids, nil
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
}
