package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nestedset/audit"
	"nestedset/store"
	"nestedset/treequery"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream upgrades the connection and polls the tenant's audit_log table
// for newly appended entries, pushing each as a JSON frame. Polling
// (rather than a push from the engine) keeps the engine itself free of
// any notion of subscribers, matching the core library's no-global-state
// design: the only thing that changes between mutation and notification
// is that this handler happens to look again.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	handle := HandleFrom(r.Context())
	ctx := r.Context()

	var lastSeq int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, newSeq, err := pollAuditLog(ctx, handle.Store, lastSeq)
			if err != nil {
				log.Printf("ws poll: %v", err)
				return
			}
			lastSeq = newSeq
			for _, entry := range entries {
				if err := conn.WriteJSON(entry); err != nil {
					return
				}
			}
		}
	}
}

type streamEntry struct {
	Seq    int64  `json:"seq"`
	Op     string `json:"op"`
	Table  string `json:"table"`
	Tree   any    `json:"tree"`
	NodePK any    `json:"node_pk"`
	Actor  string `json:"actor"`
	Time   int64  `json:"time"`
}

func pollAuditLog(ctx context.Context, repo store.Repository, afterSeq int64) ([]streamEntry, int64, error) {
	var entries []streamEntry
	newSeq := afterSeq

	err := repo.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		q := treequery.New(audit.Table).And("seq > ?", afterSeq).OrderBy("seq ASC").Limit(100)
		rows, err := tx.Select(ctx, q)
		if err != nil {
			return err
		}
		for _, row := range rows {
			seq, _ := toInt64(row["seq"])
			entries = append(entries, streamEntry{
				Seq:    seq,
				Op:     toString(row["op"]),
				Table:  toString(row["host_table"]),
				Tree:   row["tree"],
				NodePK: row["node_pk"],
				Actor:  toString(row["actor"]),
				Time:   mustInt64(row["time"]),
			})
			if seq > newSeq {
				newSeq = seq
			}
		}
		return nil
	})
	return entries, newSeq, err
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func mustInt64(v any) int64 {
	n, _ := toInt64(v)
	return n
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
