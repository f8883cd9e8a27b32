// Package internal hosts development tooling that is not part of the
// synchronization surface.
package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chat-sync/domain"
)

//go:embed inspect.html
var templatesFS embed.FS

type inspectRow struct {
	Key      string
	Channel  string
	Stored   string
	ID       string
	Username string
	Body     string
}

type pageData struct {
	Prefix string
	Items  []inspectRow
}

// StartInspector serves a read-only HTML view of the badger store on
// localhost, for poking at cached state while the client runs.
func StartInspector(db *badger.DB, port int, log *slog.Logger) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}
		data := pageData{Prefix: prefix}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		addr := fmt.Sprintf("localhost:%d", port)
		log.Info("Debug inspector listening", "url", "http://"+addr+"/inspect")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("Debug inspector stopped", "error", err)
		}
	}()
}

// mapRow decodes one cache entry. Keys are msg:<channel>:<nanos>:<id>;
// unknown prefixes fall back to a raw size display.
func mapRow(key string, val []byte) inspectRow {
	row := inspectRow{
		Key:      key,
		Channel:  "-",
		Stored:   "--:--:--",
		ID:       "-",
		Username: "-",
		Body:     "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	parts := strings.Split(key, ":")
	if len(parts) == 4 && parts[0] == "msg" {
		row.Channel = "#" + parts[1]
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Stored = time.Unix(0, tsNano).Format("15:04:05")
		}
		row.ID = parts[3]
	}

	var m domain.Message
	if err := json.Unmarshal(val, &m); err == nil && m.Username != "" {
		row.Username = m.Username
		row.Body = m.Body
	}
	return row
}
