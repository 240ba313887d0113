package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/easelhq/easel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendMessageOrdinalsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, err := s.CreateSession(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	var lastID int64
	for i := 0; i < 5; i++ {
		id, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "msg"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id <= lastID {
			t.Fatalf("ids not increasing: %d after %d", id, lastID)
		}
		lastID = id
	}

	msgs, err := s.LoadMessages(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("loaded %d messages", len(msgs))
	}
	for i, m := range msgs {
		if m.Ordinal != i {
			t.Errorf("ordinal[%d] = %d", i, m.Ordinal)
		}
	}
}

func TestLoadMessagesDecodesBlocks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, _ := s.CreateSession(ctx, "test")

	assistant := easel.BlocksMessage(easel.RoleAssistant, []easel.ContentBlock{
		easel.TextBlock("working on it"),
		easel.ToolUseBlock("t1", "comfyui_monitor", map[string]any{"action": "get_queue"}),
	})
	if _, err := s.AppendMessage(ctx, sid, assistant); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "plain")); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.LoadMessages(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Blocks == nil || len(msgs[0].Blocks) != 2 {
		t.Fatalf("blocks lost: %+v", msgs[0])
	}
	if msgs[0].Blocks[1].Input["action"] != "get_queue" {
		t.Errorf("tool input lost: %+v", msgs[0].Blocks[1])
	}
	if msgs[1].Blocks != nil || msgs[1].Text != "plain" {
		t.Errorf("plain message misdecoded: %+v", msgs[1])
	}
}

func TestLoadMessagesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, _ := s.CreateSession(ctx, "test")

	for i := 0; i < 3; i++ {
		if _, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "old")); err != nil {
			t.Fatal(err)
		}
	}
	checkpointID, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "[Previous conversation summary]\n..."))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleAssistant, "after")); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateSessionMeta(ctx, sid, easel.MetaUpdate{SummaryMessageID: &checkpointID}); err != nil {
		t.Fatal(err)
	}
	meta, err := s.GetSessionMeta(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if meta.SummaryMessageID != checkpointID {
		t.Fatalf("summary_message_id = %d, want %d", meta.SummaryMessageID, checkpointID)
	}

	msgs, err := s.LoadMessagesFrom(ctx, sid, meta.SummaryMessageID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("loaded %d messages from checkpoint, want 2", len(msgs))
	}
	if msgs[0].ID != checkpointID {
		t.Errorf("first message id = %d", msgs[0].ID)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, _ := s.CreateSession(ctx, "test")
	if _, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "hi")); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession(ctx, sid); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.LoadMessages(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	if _, err := s.GetSessionMeta(ctx, sid); err == nil {
		t.Error("session meta survived delete")
	}
}

func TestListSessionsHidesChildren(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	parent, _ := s.CreateSession(ctx, "parent")
	if _, err := s.CreateChildSession(ctx, parent, "child"); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != parent {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestUpdateSessionMetaTokenTotals(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, _ := s.CreateSession(ctx, "test")

	in, out := 120, 45
	if err := s.UpdateSessionMeta(ctx, sid, easel.MetaUpdate{
		TotalInputTokens:  &in,
		TotalOutputTokens: &out,
	}); err != nil {
		t.Fatal(err)
	}
	meta, _ := s.GetSessionMeta(ctx, sid)
	if meta.TotalInputTokens != 120 || meta.TotalOutputTokens != 45 {
		t.Errorf("totals = %d/%d", meta.TotalInputTokens, meta.TotalOutputTokens)
	}
}

func TestSaveMessagesReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sid, _ := s.CreateSession(ctx, "test")
	for i := 0; i < 3; i++ {
		if _, err := s.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "old")); err != nil {
			t.Fatal(err)
		}
	}

	err := s.SaveMessages(ctx, sid, []easel.Message{
		easel.TextMessage(easel.RoleUser, "new-1"),
		easel.TextMessage(easel.RoleAssistant, "new-2"),
	})
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.LoadMessages(ctx, sid)
	if len(msgs) != 2 || msgs[0].Text != "new-1" || msgs[1].Text != "new-2" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestSchemaVersionRecorded(t *testing.T) {
	s := openTestStore(t)
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")

	s1, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	sid, _ := s1.CreateSession(ctx, "persist")
	if _, err := s1.AppendMessage(ctx, sid, easel.TextMessage(easel.RoleUser, "hello")); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	msgs, err := s2.LoadMessages(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("msgs after reopen = %+v", msgs)
	}
}
