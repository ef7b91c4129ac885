package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memNotifications struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
}

func newMemNotifications() *memNotifications {
	return &memNotifications{items: make(map[uuid.UUID]*Notification)}
}

func clone(n *Notification) *Notification {
	c := *n
	c.Deliveries = append([]DeliveryRecord(nil), n.Deliveries...)
	return &c
}

func (m *memNotifications) CreateNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[n.ID] = clone(n)
	return nil
}

func (m *memNotifications) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || !n.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return clone(n), nil
}

func (m *memNotifications) filter(recipient uuid.UUID, keep func(*Notification) bool) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.RecipientID == recipient && n.ExpiresAt.After(time.Now()) && keep(n) {
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func limitTo(ns []*Notification, limit int) []*Notification {
	if limit > 0 && len(ns) > limit {
		return ns[:limit]
	}
	return ns
}

func (m *memNotifications) ListNotifications(_ context.Context, recipient uuid.UUID, limit, offset int) ([]*Notification, error) {
	all := m.filter(recipient, func(*Notification) bool { return true })
	if offset >= len(all) {
		return nil, nil
	}
	return limitTo(all[offset:], limit), nil
}

func (m *memNotifications) ListUnread(_ context.Context, recipient uuid.UUID, limit int) ([]*Notification, error) {
	return limitTo(m.filter(recipient, func(n *Notification) bool { return !n.Read }), limit), nil
}

func (m *memNotifications) ListUnreadSince(_ context.Context, recipient uuid.UUID, since time.Time, limit int) ([]*Notification, error) {
	return limitTo(m.filter(recipient, func(n *Notification) bool { return !n.Read && !n.CreatedAt.Before(since) }), limit), nil
}

func (m *memNotifications) ListByType(_ context.Context, recipient uuid.UUID, typ NotificationType, limit int) ([]*Notification, error) {
	return limitTo(m.filter(recipient, func(n *Notification) bool { return n.Type == typ }), limit), nil
}

func (m *memNotifications) CountUnread(_ context.Context, recipient uuid.UUID) (int, error) {
	return len(m.filter(recipient, func(n *Notification) bool { return !n.Read })), nil
}

func (m *memNotifications) MarkRead(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.ReadAt == nil {
		now := time.Now()
		n.ReadAt = &now
	}
	n.Read = true
	return clone(n), nil
}

func (m *memNotifications) MarkAllRead(_ context.Context, recipient uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	now := time.Now()
	for _, n := range m.items {
		if n.RecipientID == recipient && !n.Read {
			n.Read = true
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memNotifications) MarkActionTaken(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.ActionTakenAt == nil {
		now := time.Now()
		n.ActionTakenAt = &now
	}
	n.ActionTaken = true
	return clone(n), nil
}

func (m *memNotifications) RecordDeliveryAttempt(_ context.Context, id uuid.UUID, channel Channel, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec := DeliveryRecord{Channel: channel, Status: DeliveryFailed}
	if success {
		rec.Status = DeliverySent
		rec.Sent = true
		rec.SentAt = &now
	} else {
		rec.Error = &errMsg
	}
	replaced := false
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == channel {
			n.Deliveries[i] = rec
			replaced = true
		}
	}
	if !replaced {
		n.Deliveries = append(n.Deliveries, rec)
	}
	n.DeliveryAttempts++
	n.LastDeliveryAttempt = &now
	return nil
}

func (m *memNotifications) SettlePendingDeliveries(_ context.Context, recipient uuid.UUID, channel Channel, before time.Time, success bool, errMsg string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for _, item := range m.items {
		if item.RecipientID != recipient || !item.CreatedAt.Before(before) {
			continue
		}
		for i := range item.Deliveries {
			d := &item.Deliveries[i]
			if d.Channel != channel || d.Status != DeliveryPending {
				continue
			}
			if success {
				d.Status, d.Sent, d.SentAt, d.Error = DeliverySent, true, &now, nil
			} else {
				msg := errMsg
				d.Status, d.Error = DeliveryFailed, &msg
			}
			n++
		}
	}
	return n, nil
}

func (m *memNotifications) DeleteNotification(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memNotifications) DeleteAllNotifications(_ context.Context, recipient uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.items {
		if n.RecipientID == recipient {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

func (m *memNotifications) DeleteExpiredNotifications(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.items {
		if !n.ExpiresAt.After(time.Now()) {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

type memPreferences struct {
	mu    sync.Mutex
	items map[uuid.UUID]*EmailPreference
}

func newMemPreferences() *memPreferences {
	return &memPreferences{items: make(map[uuid.UUID]*EmailPreference)}
}

func copyPref(p *EmailPreference) *EmailPreference {
	c := *p
	c.Flags = make(PreferenceFlags, len(p.Flags))
	for cat, leaves := range p.Flags {
		c.Flags[cat] = make(map[string]bool, len(leaves))
		for k, v := range leaves {
			c.Flags[cat][k] = v
		}
	}
	return &c
}

func (m *memPreferences) GetPreference(_ context.Context, userID uuid.UUID) (*EmailPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPref(p), nil
}

func (m *memPreferences) GetOrCreatePreference(_ context.Context, defaults *EmailPreference) (*EmailPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[defaults.UserID]; ok {
		return copyPref(p), nil
	}
	m.items[defaults.UserID] = copyPref(defaults)
	return copyPref(defaults), nil
}

func (m *memPreferences) UpdatePreference(_ context.Context, defaults *EmailPreference, mutate func(*EmailPreference) error) (*EmailPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[defaults.UserID]
	if !ok {
		current = copyPref(defaults)
	}
	working := copyPref(current)
	if err := mutate(working); err != nil {
		return nil, err
	}
	m.items[defaults.UserID] = working
	return copyPref(working), nil
}

func (m *memPreferences) ListUserIDsByFrequency(_ context.Context, f Frequency) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, p := range m.items {
		if p.Frequency == f {
			out = append(out, id)
		}
	}
	return out, nil
}

type memSchedules struct {
	mu    sync.Mutex
	items map[uuid.UUID]*DigestSchedule
}

func newMemSchedules() *memSchedules {
	return &memSchedules{items: make(map[uuid.UUID]*DigestSchedule)}
}

func (m *memSchedules) UpsertDigestSchedule(_ context.Context, userID uuid.UUID, f Frequency, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[userID] = &DigestSchedule{UserID: userID, Frequency: f, NextRunAt: next}
	return nil
}

func (m *memSchedules) DeleteDigestSchedule(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, userID)
	return nil
}

func (m *memSchedules) ClaimDueSchedules(_ context.Context, now time.Time, limit int, next func(Frequency, time.Time) time.Time) ([]DigestSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DigestSchedule
	for _, s := range m.items {
		if len(out) == limit {
			break
		}
		if !s.NextRunAt.After(now) {
			out = append(out, *s)
			ran := now
			s.LastRunAt = &ran
			s.NextRunAt = next(s.Frequency, now)
		}
	}
	return out, nil
}

type stubDigests struct {
	posts    []DigestPost
	activity ActivityCounts
	growth   []CommunityGrowth
}

func (s *stubDigests) TopCommunityPosts(context.Context, uuid.UUID, time.Time, int) ([]DigestPost, error) {
	return s.posts, nil
}

func (s *stubDigests) UserActivity(context.Context, uuid.UUID, time.Time) (ActivityCounts, error) {
	return s.activity, nil
}

func (s *stubDigests) CommunityGrowth(context.Context, uuid.UUID, time.Time) ([]CommunityGrowth, error) {
	return s.growth, nil
}

type memUsers map[uuid.UUID]*User

func (m memUsers) add(name, email string) uuid.UUID {
	id := uuid.New()
	u := &User{ID: id, Name: name, IsActive: true}
	if email != "" {
		u.Email = &email
	}
	m[id] = u
	return id
}

func (m memUsers) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m memUsers) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m {
		if u.EmailAddress() == email {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) channels() []Channel {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Channel
	for _, j := range q.jobs {
		out = append(out, j.Channel)
	}
	return out
}

type memDevices struct {
	tokens map[uuid.UUID][]string
}

func (m *memDevices) UpsertDeviceToken(_ context.Context, userID uuid.UUID, token, _ string) error {
	if m.tokens == nil {
		m.tokens = make(map[uuid.UUID][]string)
	}
	m.tokens[userID] = append(m.tokens[userID], token)
	return nil
}

func (m *memDevices) GetActiveDeviceTokens(_ context.Context, userID uuid.UUID) ([]string, error) {
	return m.tokens[userID], nil
}

func (m *memDevices) DeactivateDeviceTokens(context.Context, []string) error {
	return nil
}

type memMessages struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Message
}

func newMemMessages() *memMessages {
	return &memMessages{items: make(map[uuid.UUID]*Message)}
}

func (m *memMessages) CreateMessage(_ context.Context, senderID, recipientID uuid.UUID, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &Message{ID: uuid.New(), SenderID: senderID, RecipientID: recipientID, Content: content, CreatedAt: time.Now()}
	m.items[msg.ID] = msg
	c := *msg
	return &c, nil
}

func (m *memMessages) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

func (m *memMessages) MarkMessageRead(_ context.Context, id uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if msg.ReadAt == nil {
		now := time.Now()
		msg.ReadAt = &now
	}
	c := *msg
	return &c, nil
}

func (m *memMessages) ListConversation(context.Context, uuid.UUID, uuid.UUID, int, int) ([]*Message, error) {
	return nil, nil
}
