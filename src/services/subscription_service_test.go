package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/repositories/mock"
)

const testAPIServer = "https://pbx.example.com"

type stubPortalClient struct {
	pbxSubs []models.NSSubscription
	users   []models.NSUser

	listErr   error
	createErr error
	updateErr error
	deleteErr error

	createCalls int
	updateCalls int
	deleteCalls int

	lastCreateModel   string
	lastCreateExpires int
	lastUpdateID      string
	lastUpdateFields  map[string]interface{}
	lastDeleteID      string
}

func (s *stubPortalClient) GetSubscriptions(ctx context.Context, domain, user string) ([]models.NSSubscription, error) {
	return s.pbxSubs, s.listErr
}

func (s *stubPortalClient) CreateSubscription(ctx context.Context, domain, user, model, postURL string, expiresSeconds int) error {
	s.createCalls++
	s.lastCreateModel = model
	s.lastCreateExpires = expiresSeconds
	return s.createErr
}

func (s *stubPortalClient) UpdateSubscription(ctx context.Context, subscriptionID, domain string, fields map[string]interface{}) error {
	s.updateCalls++
	s.lastUpdateID = subscriptionID
	s.lastUpdateFields = fields
	return s.updateErr
}

func (s *stubPortalClient) DeleteSubscription(ctx context.Context, subscriptionID, domain string) error {
	s.deleteCalls++
	s.lastDeleteID = subscriptionID
	return s.deleteErr
}

func (s *stubPortalClient) GetUsers(ctx context.Context, domain string) ([]models.NSUser, error) {
	return s.users, s.listErr
}

type subscriptionFixture struct {
	service *SubscriptionService
	subs    *mock.SubscriptionRepository
	audit   *mock.AuditLogRepository
	client  *stubPortalClient
}

func newSubscriptionFixture() *subscriptionFixture {
	f := &subscriptionFixture{
		subs:   mock.NewSubscriptionRepository(),
		audit:  mock.NewAuditLogRepository(),
		client: &stubPortalClient{},
	}
	f.service = NewSubscriptionService(f.subs, f.audit, testAPIServer, 7*24*time.Hour)
	return f
}

func managedSubscription() *models.Subscription {
	return &models.Subscription{
		ID:                10,
		APIServer:         testAPIServer,
		Domain:            "acme.com",
		User:              "1001",
		SubscriptionModel: "call",
		PostURL:           "https://hooks.example.com/call",
		Status:            models.SubscriptionStatusActive,
	}
}

func TestSubscriptionCreate_Success(t *testing.T) {
	f := newSubscriptionFixture()
	sub := &models.Subscription{
		Domain:            "acme.com",
		User:              "1001",
		SubscriptionModel: "Call",
		PostURL:           "https://hooks.example.com/call",
	}

	created, err := f.service.Create(context.Background(), f.client, "1001", sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.client.createCalls != 1 {
		t.Fatalf("expected 1 PBX create, got %d", f.client.createCalls)
	}
	if f.client.lastCreateModel != "call" {
		t.Errorf("expected lowercased model, got %q", f.client.lastCreateModel)
	}
	if f.client.lastCreateExpires != int((7 * 24 * time.Hour).Seconds()) {
		t.Errorf("expected standard duration, got %d", f.client.lastCreateExpires)
	}

	if created.APIServer != testAPIServer {
		t.Errorf("expected api_server stamped, got %q", created.APIServer)
	}
	if created.ExpiresAt == nil {
		t.Error("expected a default expiry")
	}
	if len(f.subs.Calls["CreateOrUpdate"]) != 1 {
		t.Error("expected local upsert")
	}

	creates := f.audit.ByAction(models.AuditActionCreate)
	if len(creates) != 1 || creates[0].User != "1001" {
		t.Errorf("expected create audit entry by the actor, got %+v", creates)
	}
}

func TestSubscriptionCreate_PBXRejects(t *testing.T) {
	f := newSubscriptionFixture()
	f.client.createErr = errors.New("invalid model")

	_, err := f.service.Create(context.Background(), f.client, "1001", managedSubscription())
	if !errors.Is(err, ErrPBXRejected) {
		t.Fatalf("expected ErrPBXRejected, got %v", err)
	}
	if len(f.subs.Calls["CreateOrUpdate"]) != 0 {
		t.Error("rejected subscription must not be saved locally")
	}
	if len(f.audit.Entries) != 0 {
		t.Error("rejected subscription must not be audited")
	}
}

func TestSubscriptionAdopt(t *testing.T) {
	f := newSubscriptionFixture()

	_, err := f.service.Adopt(context.Background(), "1002", managedSubscription())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.client.createCalls != 0 {
		t.Error("adopt must not touch the PBX")
	}
	if len(f.subs.Calls["CreateOrUpdate"]) != 1 {
		t.Error("expected local upsert")
	}
	adopts := f.audit.ByAction(models.AuditActionAdopt)
	if len(adopts) != 1 || adopts[0].User != "1002" {
		t.Errorf("expected adopt audit entry by the actor, got %+v", adopts)
	}
}

func TestListMerged(t *testing.T) {
	f := newSubscriptionFixture()
	managed := managedSubscription()
	f.subs.ListForOwnerFunc = func(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error) {
		return []*models.Subscription{managed}, nil
	}
	f.client.pbxSubs = []models.NSSubscription{
		// Matches the managed record: must be deduplicated
		{User: "1001", Model: "Call", PostURL: "https://hooks.example.com/call"},
		// Unmanaged, PBX only
		{User: "1002", Model: "presence", PostURL: "https://hooks.example.com/presence"},
		// Incomplete rows are skipped
		{User: "1003"},
	}

	merged, err := f.service.ListMerged(context.Background(), f.client, "acme.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(merged) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(merged))
	}
	if merged[0].Source != "db" || merged[0].ID == nil || *merged[0].ID != 10 {
		t.Errorf("expected first entry to be the managed record, got %+v", merged[0])
	}
	if merged[1].Source != "pbx" || merged[1].ID != nil {
		t.Errorf("expected second entry to be unmanaged, got %+v", merged[1])
	}
	if merged[1].Description != "Unmanaged (PBX Only)" {
		t.Errorf("unexpected description: %q", merged[1].Description)
	}
}

func TestListMerged_PBXFailureDegrades(t *testing.T) {
	f := newSubscriptionFixture()
	managed := managedSubscription()
	f.subs.ListForOwnerFunc = func(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error) {
		return []*models.Subscription{managed}, nil
	}
	f.client.listErr = errors.New("pbx down")

	merged, err := f.service.ListMerged(context.Background(), f.client, "acme.com")
	if err != nil {
		t.Fatalf("expected degraded result, got error: %v", err)
	}
	if len(merged) != 1 || merged[0].Source != "db" {
		t.Errorf("expected managed records only, got %+v", merged)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		subs       []*models.Subscription
		wantStatus string
		wantCount  int
	}{
		{
			name:       "no subscriptions",
			wantStatus: "healthy",
		},
		{
			name: "all passing",
			subs: []*models.Subscription{
				{Status: models.SubscriptionStatusActive, MaintenanceStatus: models.MaintenanceStatusSuccess},
			},
			wantStatus: "healthy",
		},
		{
			name: "failing maintenance",
			subs: []*models.Subscription{
				{Status: models.SubscriptionStatusActive, MaintenanceStatus: models.MaintenanceStatusFailed},
				{Status: models.SubscriptionStatusActive, MaintenanceStatus: models.MaintenanceStatusSuccess},
				{Status: models.SubscriptionStatusArchived, MaintenanceStatus: models.MaintenanceStatusFailed},
			},
			wantStatus: "unhealthy",
			wantCount:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubscriptionFixture()
			f.subs.ListForOwnerFunc = func(ctx context.Context, apiServer, domain, user string) ([]*models.Subscription, error) {
				return tt.subs, nil
			}

			summary, err := f.service.Status(context.Background(), "acme.com")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if summary.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, summary.Status)
			}
			if summary.Count != tt.wantCount {
				t.Errorf("expected count %d, got %d", tt.wantCount, summary.Count)
			}
		})
	}
}

func TestSubscriptionUpdate_NotFound(t *testing.T) {
	f := newSubscriptionFixture()

	_, err := f.service.Update(context.Background(), f.client, "1001", 99, models.SubscriptionPatch{})
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscriptionUpdate_PushesToPBX(t *testing.T) {
	f := newSubscriptionFixture()
	sub := managedSubscription()
	f.subs.GetByIDFunc = func(ctx context.Context, id int64) (*models.Subscription, error) {
		return sub, nil
	}
	f.client.pbxSubs = []models.NSSubscription{
		{ID: "pbx-7", User: "1001", Model: "call", PostURL: sub.PostURL},
	}

	newURL := "https://hooks.example.com/v2/call"
	updated, err := f.service.Update(context.Background(), f.client, "1001", 10, models.SubscriptionPatch{PostURL: &newURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.client.updateCalls != 1 || f.client.lastUpdateID != "pbx-7" {
		t.Errorf("expected PBX update of pbx-7, got %d calls (id %q)", f.client.updateCalls, f.client.lastUpdateID)
	}
	if f.client.lastUpdateFields["post-url"] != newURL {
		t.Errorf("expected new post-url pushed, got %v", f.client.lastUpdateFields["post-url"])
	}
	if updated.PostURL != newURL {
		t.Errorf("expected patch applied locally, got %q", updated.PostURL)
	}
	if len(f.subs.Calls["Update"]) != 1 {
		t.Error("expected local update")
	}
	if len(f.audit.ByAction(models.AuditActionUpdate)) != 1 {
		t.Error("expected an update audit entry")
	}
}

func TestSubscriptionUpdate_RecreatesWhenPBXLostIt(t *testing.T) {
	f := newSubscriptionFixture()
	sub := managedSubscription()
	f.subs.GetByIDFunc = func(ctx context.Context, id int64) (*models.Subscription, error) {
		return sub, nil
	}

	_, err := f.service.Update(context.Background(), f.client, "1001", 10, models.SubscriptionPatch{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.client.updateCalls != 0 {
		t.Error("nothing to update on the PBX")
	}
	if f.client.createCalls != 1 {
		t.Error("expected the subscription to be re-created on the PBX")
	}
}

func TestSubscriptionDelete(t *testing.T) {
	f := newSubscriptionFixture()
	sub := managedSubscription()
	f.subs.GetByIDFunc = func(ctx context.Context, id int64) (*models.Subscription, error) {
		return sub, nil
	}
	f.subs.ArchiveFunc = func(ctx context.Context, id int64) (*models.Subscription, error) {
		archived := *sub
		archived.Status = models.SubscriptionStatusArchived
		return &archived, nil
	}
	f.client.pbxSubs = []models.NSSubscription{
		{ID: "pbx-7", User: "1001", Model: "call", PostURL: sub.PostURL},
	}

	archived, err := f.service.Delete(context.Background(), f.client, "1001", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.client.deleteCalls != 1 || f.client.lastDeleteID != "pbx-7" {
		t.Errorf("expected PBX delete of pbx-7, got %d calls (id %q)", f.client.deleteCalls, f.client.lastDeleteID)
	}
	if archived.Status != models.SubscriptionStatusArchived {
		t.Errorf("expected archived record, got %s", archived.Status)
	}
	if len(f.audit.ByAction(models.AuditActionDelete)) != 1 {
		t.Error("expected a delete audit entry")
	}
}

func TestSubscriptionDelete_ToleratesMissingPBXRecord(t *testing.T) {
	f := newSubscriptionFixture()
	sub := managedSubscription()
	f.subs.GetByIDFunc = func(ctx context.Context, id int64) (*models.Subscription, error) {
		return sub, nil
	}

	_, err := f.service.Delete(context.Background(), f.client, "1001", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.client.deleteCalls != 0 {
		t.Error("nothing to delete on the PBX")
	}
	if len(f.subs.Calls["Archive"]) != 1 {
		t.Error("local record must still be archived")
	}
}

func TestSearchUsers(t *testing.T) {
	f := newSubscriptionFixture()
	f.client.users = []models.NSUser{
		{User: "1001", FirstName: "Alice", LastName: "Smith"},
		{User: "1002", FirstName: "Bob", LastName: "Jones"},
		{User: "2001", FirstName: "Carol", LastName: "Smith"},
	}

	got, err := f.service.SearchUsers(context.Background(), f.client, "acme.com", "smith")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	for _, u := range got {
		if !strings.EqualFold(u.LastName, "smith") {
			t.Errorf("unexpected match %+v", u)
		}
	}
}
