// Package memstore is an in-memory implementation of the storefront store. It
// keeps the same uniqueness rules as the Postgres schema (order ids, checkout
// session ids, user emails) and publishes the same change feed channels.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store"
)

type user struct {
	profile models.UserProfile
	hash    string
}

type outboxEntry struct {
	msg       models.OutboxMessage
	published bool
	lastError string
}

type Store struct {
	mu            sync.Mutex
	products      map[string]models.Product
	orders        map[string]models.Order
	users         map[string]user
	notifications map[string]models.Notification
	outbox        []*outboxEntry

	// FailNotificationBatch makes InsertNotifications fail, for exercising
	// best-effort paths.
	FailNotificationBatch error
	// FailOrderEvent makes order writes that carry an outbox event fail
	// without changing anything.
	FailOrderEvent error

	feedMu sync.Mutex
	subs   map[string]map[int]chan string
	nextID int
}

func New() *Store {
	return &Store{
		products:      make(map[string]models.Product),
		orders:        make(map[string]models.Order),
		users:         make(map[string]user),
		notifications: make(map[string]models.Notification),
		subs:          make(map[string]map[int]chan string),
	}
}

// Products

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, store.ErrDuplicate)
	}
	s.products[p.ID] = *p
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.products[p.ID] = *p
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// Orders

func (s *Store) sessionTaken(sessionID, exceptOrderID string) bool {
	if sessionID == "" {
		return false
	}
	for _, o := range s.orders {
		if o.StripeCheckoutSessionID == sessionID && o.ID != exceptOrderID {
			return true
		}
	}
	return false
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	if _, ok := s.orders[o.ID]; ok || s.sessionTaken(o.StripeCheckoutSessionID, "") {
		s.mu.Unlock()
		return fmt.Errorf("order %s: %w", o.ID, store.ErrDuplicate)
	}
	s.orders[o.ID] = cloneOrder(*o)
	s.mu.Unlock()

	s.publish(store.ChannelOrders, o.UserID)
	return nil
}

func (s *Store) AttachSession(ctx context.Context, orderID, sessionID string) error {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != models.OrderStatusPending {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if s.sessionTaken(sessionID, orderID) {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, store.ErrDuplicate)
	}
	o.StripeCheckoutSessionID = sessionID
	s.orders[orderID] = o
	s.mu.Unlock()

	s.publish(store.ChannelOrders, o.UserID)
	return nil
}

func (s *Store) FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.StripeCheckoutSessionID == sessionID {
			c := cloneOrder(o)
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ConfirmPendingOrder(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error) {
	s.mu.Lock()
	existing, ok := s.orders[o.ID]
	if !ok || existing.Status != models.OrderStatusPending || s.sessionTaken(o.StripeCheckoutSessionID, o.ID) {
		s.mu.Unlock()
		return false, nil
	}
	if err := s.orderEvent(event); err != nil {
		s.mu.Unlock()
		return false, err
	}
	updated := cloneOrder(*o)
	updated.UserID = existing.UserID
	s.orders[o.ID] = updated
	s.mu.Unlock()

	s.publish(store.ChannelOrders, updated.UserID)
	return true, nil
}

func (s *Store) InsertOrderIfAbsent(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error) {
	s.mu.Lock()
	if _, ok := s.orders[o.ID]; ok || s.sessionTaken(o.StripeCheckoutSessionID, "") {
		s.mu.Unlock()
		return false, nil
	}
	if err := s.orderEvent(event); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.orders[o.ID] = cloneOrder(*o)
	s.mu.Unlock()

	s.publish(store.ChannelOrders, o.UserID)
	return true, nil
}

// orderEvent enqueues event as part of an order write. Callers hold s.mu.
func (s *Store) orderEvent(event *models.OutboxMessage) error {
	if event == nil {
		return nil
	}
	if s.FailOrderEvent != nil {
		return fmt.Errorf("failed to record order event: %w", s.FailOrderEvent)
	}
	s.outbox = append(s.outbox, &outboxEntry{msg: *event})
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderDate.After(orders[j].OrderDate) })
	return orders, nil
}

// CountOrdersBySession counts orders carrying sessionID.
func (s *Store) CountOrdersBySession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.StripeCheckoutSessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Store) TransitionOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		s.mu.Unlock()
		return fmt.Errorf("order %s: %w", id, store.ErrConflict)
	}
	o.Status = to
	s.orders[id] = o
	s.mu.Unlock()

	s.publish(store.ChannelOrders, o.UserID)
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.orders, id)
	s.mu.Unlock()

	s.publish(store.ChannelOrders, o.UserID)
	return nil
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.CartItem(nil), o.Items...)
	return o
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.UserProfile, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.profile.Email == u.Email {
			return fmt.Errorf("user %s: %w", u.Email, store.ErrDuplicate)
		}
	}
	if _, ok := s.users[u.UID]; ok {
		return fmt.Errorf("user %s: %w", u.UID, store.ErrDuplicate)
	}
	s.users[u.UID] = user{profile: *u, hash: passwordHash}
	return nil
}

func (s *Store) GetCredentials(ctx context.Context, email string) (*models.UserProfile, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.profile.Email == email {
			p := u.profile
			return &p, u.hash, nil
		}
	}
	return nil, "", store.ErrNotFound
}

func (s *Store) GetUser(ctx context.Context, uid string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := u.profile
	return &p, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.UserProfile, error) {
	return s.filterUsers(func(models.UserProfile) bool { return true }), nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]models.UserProfile, error) {
	return s.filterUsers(func(u models.UserProfile) bool { return u.IsAdmin }), nil
}

func (s *Store) filterUsers(keep func(models.UserProfile) bool) []models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []models.UserProfile{}
	for _, u := range s.users {
		if keep(u.profile) {
			users = append(users, u.profile)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (s *Store) SetAdmin(ctx context.Context, uid string, isAdmin bool) error {
	return s.updateUser(uid, func(p *models.UserProfile) { p.IsAdmin = isAdmin })
}

func (s *Store) UpdatePreferences(ctx context.Context, uid string, prefs models.NotificationPreferences) error {
	return s.updateUser(uid, func(p *models.UserProfile) { p.NotificationPreferences = prefs })
}

func (s *Store) updateUser(uid string, fn func(*models.UserProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u.profile)
	s.users[uid] = u
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, uid)
	return nil
}

// Notifications

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	if _, ok := s.notifications[n.ID]; !ok {
		s.notifications[n.ID] = *n
	}
	s.mu.Unlock()

	s.publish(store.ChannelNotifications, n.UserID)
	return nil
}

func (s *Store) InsertNotifications(ctx context.Context, batch []models.Notification) error {
	s.mu.Lock()
	if s.FailNotificationBatch != nil {
		s.mu.Unlock()
		return s.FailNotificationBatch
	}
	for _, n := range batch {
		if _, ok := s.notifications[n.ID]; !ok {
			s.notifications[n.ID] = n
		}
	}
	s.mu.Unlock()

	for _, n := range batch {
		s.publish(store.ChannelNotifications, n.UserID)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipients []string) ([]models.Notification, error) {
	want := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		want[r] = true
	}
	return s.filterNotifications(func(n models.Notification) bool { return want[n.UserID] }), nil
}

func (s *Store) ListAllNotifications(ctx context.Context) ([]models.Notification, error) {
	return s.filterNotifications(func(models.Notification) bool { return true }), nil
}

func (s *Store) filterNotifications(keep func(models.Notification) bool) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []models.Notification{}
	for _, n := range s.notifications {
		if keep(n) {
			list = append(list, n)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, recipients []string) error {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok || !contains(recipients, n.UserID) {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	s.mu.Unlock()

	s.publish(store.ChannelNotifications, n.UserID)
	return nil
}

func (s *Store) DeleteRecipientNotification(ctx context.Context, id, uid string) error {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != uid {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.notifications, id)
	s.mu.Unlock()

	s.publish(store.ChannelNotifications, n.UserID)
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	delete(s.notifications, id)
	s.mu.Unlock()

	s.publish(store.ChannelNotifications, n.UserID)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Outbox

func (s *Store) EnqueueOutbox(ctx context.Context, m *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, &outboxEntry{msg: *m})
	return nil
}

func (s *Store) FetchOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []models.OutboxMessage
	for _, e := range s.outbox {
		if len(msgs) == limit {
			break
		}
		if !e.published {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id string) error {
	return s.updateOutbox(id, func(e *outboxEntry) { e.published = true })
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	return s.updateOutbox(id, func(e *outboxEntry) {
		e.msg.Attempts++
		e.lastError = reason
	})
}

func (s *Store) updateOutbox(id string, fn func(*outboxEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.msg.ID == id {
			fn(e)
			return nil
		}
	}
	return store.ErrNotFound
}

// PendingOutbox counts unpublished outbox messages.
func (s *Store) PendingOutbox() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.outbox {
		if !e.published {
			n++
		}
	}
	return n
}

// Change feed

func (s *Store) Subscribe(channel string) (<-chan string, func()) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan string, 1)
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[int]chan string)
	}
	s.subs[channel][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.feedMu.Lock()
			delete(s.subs[channel], id)
			s.feedMu.Unlock()
		})
	}
}

func (s *Store) publish(channel, payload string) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default:
			// a reload is already pending; widen it so every watcher accepts it
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- "":
			default:
			}
		}
	}
}

// Seed loads a product catalogue, replacing products with the same id.
func (s *Store) Seed(products ...models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
}

// AddUser registers a profile without credentials checks.
func (s *Store) AddUser(p models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.users[p.UID] = user{profile: p}
}
