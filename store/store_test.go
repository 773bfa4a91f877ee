package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jeffsasaki/storefront/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return New(mockDB), mock
}

var orderCols = []string{"id", "user_id", "items", "total_price", "order_date", "status",
	"payment_status", "stripe_checkout_session_id", "customer_email"}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	for range migrations {
		mock.ExpectExec("(CREATE|DROP)").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "name", "description", "price", "image_url", "image_hint"}).
		AddRow("p1", "Desk Lamp", "Warm light", 25.00, "https://img/p1.png", "lamp")
	mock.ExpectQuery("^SELECT (.+) FROM products WHERE id = \\$1").WithArgs("p1").WillReturnRows(rows)
	mock.ExpectQuery("^SELECT (.+) FROM products WHERE id = \\$1").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	p, err := db.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.Product{ID: "p1", Name: "Desk Lamp", Description: "Warm light", Price: 25,
		ImageURL: "https://img/p1.png", ImageHint: "lamp"}, *p)

	_, err = db.GetProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("^UPDATE products").WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.UpdateProduct(context.Background(), &models.Product{ID: "ghost", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrderPendingWithoutSession(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()
	order := &models.Order{
		ID:            "o1",
		UserID:        "u1",
		Items:         []models.CartItem{{Product: models.Product{ID: "p1", Price: 25}, Quantity: 2}},
		TotalPrice:    50,
		OrderDate:     now,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
	}
	mock.ExpectExec("^INSERT INTO orders").
		WithArgs("o1", "u1", sqlmock.AnyArg(), 50.0, now, models.OrderStatusPending, models.PaymentStatusUnpaid, nil, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, db.CreateOrder(context.Background(), order))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrderBySession(t *testing.T) {
	db, mock := newMock(t)
	date := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows(orderCols).AddRow("o1", "u1",
		[]byte(`[{"id":"p1","name":"Desk Lamp","price":25,"quantity":2}]`),
		50.0, date, "Processing", "paid", "sess_123", "buyer@example.com")
	mock.ExpectQuery("^SELECT (.+) FROM orders WHERE stripe_checkout_session_id = \\$1").
		WithArgs("sess_123").WillReturnRows(rows)

	o, err := db.FindOrderBySession(context.Background(), "sess_123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, o.Status)
	assert.Equal(t, "sess_123", o.StripeCheckoutSessionID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "p1", o.Items[0].ID)
	assert.Equal(t, 2, o.Items[0].Quantity)
}

func TestFindOrderBySessionMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("^SELECT (.+) FROM orders").WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := db.FindOrderBySession(context.Background(), "sess_none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPendingOrder(t *testing.T) {
	order := &models.Order{ID: "o1", Status: models.OrderStatusProcessing, StripeCheckoutSessionID: "sess_1"}

	tests := []struct {
		name   string
		result driver.Result
		err    error
		want   bool
	}{
		{"transitions pending order", sqlmock.NewResult(0, 1), nil, true},
		{"order no longer pending", sqlmock.NewResult(0, 0), nil, false},
		{"session owned by another order", nil, &pq.Error{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectBegin()
			exp := mock.ExpectExec("^UPDATE orders SET items").
				WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), models.OrderStatusProcessing, sqlmock.AnyArg(),
					"sess_1", sqlmock.AnyArg(), sqlmock.AnyArg(), "o1", models.OrderStatusPending)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}
			if tt.want {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			ok, err := db.ConfirmPendingOrder(context.Background(), order, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestConfirmPendingOrderCommitsEventWithOrder(t *testing.T) {
	db, mock := newMock(t)
	order := &models.Order{ID: "o1", Status: models.OrderStatusProcessing, StripeCheckoutSessionID: "sess_1"}
	event := &models.OutboxMessage{ID: "m1", Topic: "order_events", Payload: []byte(`{}`)}

	mock.ExpectBegin()
	mock.ExpectExec("^UPDATE orders SET items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^INSERT INTO outbox").WithArgs("m1", "order_events", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ok, err := db.ConfirmPendingOrder(context.Background(), order, event)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderWriteRolledBackWhenEventFails(t *testing.T) {
	db, mock := newMock(t)
	order := &models.Order{ID: "o2", StripeCheckoutSessionID: "sess_2"}
	event := &models.OutboxMessage{ID: "m2", Topic: "order_events"}

	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^INSERT INTO outbox").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	created, err := db.InsertOrderIfAbsent(context.Background(), order, event)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderIfAbsent(t *testing.T) {
	db, mock := newMock(t)
	order := &models.Order{ID: "o2", StripeCheckoutSessionID: "sess_2"}
	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := db.InsertOrderIfAbsent(context.Background(), order, nil)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.InsertOrderIfAbsent(context.Background(), order, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersFilters(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("WHERE user_id = \\$1 AND status = \\$2 ORDER BY order_date DESC").
		WithArgs("u1", models.OrderStatusShipped).
		WillReturnRows(sqlmock.NewRows(orderCols))

	orders, err := db.ListOrders(context.Background(), OrderFilter{UserID: "u1", Status: models.OrderStatusShipped})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrderStatusConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("^UPDATE orders SET status").
		WithArgs(models.OrderStatusShipped, "o1", models.OrderStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.TransitionOrderStatus(context.Background(), "o1", models.OrderStatusProcessing, models.OrderStatusShipped)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInsertNotificationIgnoresExistingID(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`^INSERT INTO notifications .* ON CONFLICT \(id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.InsertNotification(context.Background(), &models.Notification{ID: "n1", UserID: "u1"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotificationsCommits(t *testing.T) {
	db, mock := newMock(t)
	batch := []models.Notification{
		{ID: "n1", UserID: "admin-1", Type: models.NotificationNewOrder},
		{ID: "n2", UserID: "admin-2", Type: models.NotificationNewOrder},
	}
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO notifications").WithArgs("n1", "admin-1", "", models.NotificationNewOrder, "", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^INSERT INTO notifications").WithArgs("n2", "admin-2", "", models.NotificationNewOrder, "", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, db.InsertNotifications(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNotificationsRollsBack(t *testing.T) {
	db, mock := newMock(t)
	batch := []models.Notification{{ID: "n1", UserID: "admin-1"}, {ID: "n2", UserID: "admin-2"}}
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^INSERT INTO notifications").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := db.InsertNotifications(context.Background(), batch)
	assert.ErrorContains(t, err, "admin-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNotificationsByRecipients(t *testing.T) {
	db, mock := newMock(t)
	created := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "message", "type", "link", "read", "created_at"}).
		AddRow("n1", "u1", "Your order is on its way", "order_status", "/orders/o1", false, created).
		AddRow("n2", "all", "Summer sale", "promotion", "", true, created)
	mock.ExpectQuery("WHERE user_id = ANY\\(\\$1\\)").WithArgs(sqlmock.AnyArg()).WillReturnRows(rows)

	list, err := db.ListNotifications(context.Background(), []string{"u1", models.RecipientAll})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.NotificationPromotion, list[1].Type)
	assert.True(t, list[1].Read)
}

func TestListAdminsDecodesPreferences(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"uid", "email", "display_name", "created_at", "is_admin", "notification_preferences"}).
		AddRow("a1", "ops@example.com", "Ops", time.Now(), true, []byte(`{"orderUpdates":true,"promotions":false}`))
	mock.ExpectQuery("WHERE is_admin").WillReturnRows(rows)

	admins, err := db.ListAdmins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.True(t, admins[0].IsAdmin)
	assert.False(t, admins[0].NotificationPreferences.Promotions)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("^INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	err := db.CreateUser(context.Background(), &models.UserProfile{UID: "u1", Email: "a@b.c"}, "hash")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOutboxFetchAndMark(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "topic", "payload", "attempts", "created_at"}).
		AddRow("m1", "order_events", []byte(`{"kind":"order.placed"}`), 0, time.Now())
	mock.ExpectQuery("FROM outbox\\s+WHERE published_at IS NULL").WithArgs(10).WillReturnRows(rows)
	mock.ExpectExec("^UPDATE outbox SET published_at").WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^UPDATE outbox SET attempts").WithArgs("broker down", "m1").WillReturnResult(sqlmock.NewResult(0, 1))

	msgs, err := db.FetchOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "order_events", msgs[0].Topic)

	require.NoError(t, db.MarkOutboxPublished(context.Background(), "m1"))
	require.NoError(t, db.MarkOutboxFailed(context.Background(), "m1", "broker down"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
