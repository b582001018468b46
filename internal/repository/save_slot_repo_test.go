package repository

import (
	"context"
	"testing"

	"github.com/yuqie6/IdleCraft/internal/schema"
	"github.com/yuqie6/IdleCraft/internal/testutil"
)

func TestSaveSlotRepositoryPutAndGet(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSaveSlotRepository(db)
	ctx := context.Background()

	if err := repo.Put(ctx, &schema.SaveSlot{Key: "idlecraft_save", Kind: schema.SlotKindPrimary, Payload: `{"a":1}`, Timestamp: 10}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := repo.Put(ctx, &schema.SaveSlot{Key: "idlecraft_save", Kind: schema.SlotKindPrimary, Payload: `{"a":2}`, Timestamp: 20}); err != nil {
		t.Fatalf("Put overwrite error: %v", err)
	}

	got, err := repo.Get(ctx, "idlecraft_save")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || got.Payload != `{"a":2}` || got.Timestamp != 20 {
		t.Fatalf("got=%+v, want overwritten payload", got)
	}

	missing, err := repo.Get(ctx, "idlecraft_nope")
	if err != nil || missing != nil {
		t.Fatalf("missing=%+v err=%v, want nil/nil", missing, err)
	}

	if err := repo.Put(ctx, &schema.SaveSlot{}); err == nil {
		t.Fatalf("empty key should be rejected")
	}
}

func TestSaveSlotRepositoryListByPrefixEscapesWildcards(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSaveSlotRepository(db)
	ctx := context.Background()

	slots := []schema.SaveSlot{
		{Key: "idlecraft_backup_100_aaaaaaaa", Kind: schema.SlotKindBackup, Timestamp: 100},
		{Key: "idlecraft_backup_300_bbbbbbbb", Kind: schema.SlotKindBackup, Timestamp: 300},
		{Key: "idlecraft_backup_200_cccccccc", Kind: schema.SlotKindBackup, Timestamp: 200},
		{Key: "idlecraftXbackupX1", Kind: schema.SlotKindBackup, Timestamp: 400},
		{Key: "othergame_backup_1", Kind: schema.SlotKindBackup, Timestamp: 500},
	}
	for i := range slots {
		if err := repo.Put(ctx, &slots[i]); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}

	got, err := repo.ListByPrefix(ctx, "idlecraft_backup_")
	if err != nil {
		t.Fatalf("ListByPrefix error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3 (underscore must not match any char)", len(got))
	}
	if got[0].Timestamp != 300 || got[2].Timestamp != 100 {
		t.Fatalf("order=%v, want newest first", []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	}
}

func TestSaveSlotRepositoryDelete(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSaveSlotRepository(db)
	ctx := context.Background()

	_ = repo.Put(ctx, &schema.SaveSlot{Key: "idlecraft_save"})
	_ = repo.Put(ctx, &schema.SaveSlot{Key: "idlecraft_backup_1_00000000"})
	_ = repo.Put(ctx, &schema.SaveSlot{Key: "settings"})

	deleted, err := repo.Delete(ctx, "idlecraft_save")
	if err != nil || !deleted {
		t.Fatalf("Delete deleted=%v err=%v", deleted, err)
	}
	deleted, _ = repo.Delete(ctx, "idlecraft_save")
	if deleted {
		t.Fatalf("second delete should report nothing deleted")
	}

	n, err := repo.DeleteByPrefix(ctx, "idlecraft_")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByPrefix n=%d err=%v, want 1", n, err)
	}
	if other, _ := repo.Get(ctx, "settings"); other == nil {
		t.Fatalf("foreign key removed")
	}
	if _, err := repo.DeleteByPrefix(ctx, ""); err == nil {
		t.Fatalf("empty prefix should be rejected")
	}
}
