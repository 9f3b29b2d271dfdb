package history

import (
	"context"
	"testing"
)

func TestDeliveryRepoRecordListPrune(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	repo := NewDeliveryRepo(database.SQL())

	for i := 0; i < 5; i++ {
		if err := repo.Record(ctx, &Delivery{
			FromSession:      "sess-sender",
			TargetKind:       "tag",
			TargetValue:      "reviewers",
			MsgType:          "review_request",
			RecipientSession: "sess-recipient",
			Delivered:        true,
		}); err != nil {
			t.Fatalf("Record() %d error = %v", i, err)
		}
	}

	items, err := repo.ListByRecipient(ctx, "sess-recipient", 3)
	if err != nil {
		t.Fatalf("ListByRecipient() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items len = %d, want 3", len(items))
	}
	for _, it := range items {
		if !it.Delivered {
			t.Fatalf("item.Delivered = false, want true: %+v", it)
		}
	}

	if err := repo.Prune(ctx, "sess-recipient", 2); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	after, err := repo.ListByRecipient(ctx, "sess-recipient", 10)
	if err != nil {
		t.Fatalf("ListByRecipient() after prune error = %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("items after prune len = %d, want 2", len(after))
	}
}

func TestDeliveryRepoRecordsNoRecipients(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	repo := NewDeliveryRepo(database.SQL())

	if err := repo.Record(ctx, &Delivery{
		FromSession: "sess-sender",
		TargetKind:  "tag",
		TargetValue: "nobody-has-this-tag",
		MsgType:     "status_update",
		Delivered:   false,
		Error:       "NoRecipients",
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
}

func TestDeliveryRepoRecordRejectsMissingMsgType(t *testing.T) {
	database := openTestDB(t)
	repo := NewDeliveryRepo(database.SQL())
	if err := repo.Record(context.Background(), &Delivery{RecipientSession: "x"}); err == nil {
		t.Fatal("Record() error = nil, want error for missing msg type")
	}
}
