package cart_test

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jeffsasaki/storefront/cart"
	"github.com/jeffsasaki/storefront/models"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var (
	lamp     = models.Product{ID: "p1", Name: "Desk Lamp", Price: 25.00}
	notebook = models.Product{ID: "p2", Name: "Notebook", Price: 4.99}
)

var _ = Describe("Cart", func() {
	var c *cart.Cart

	BeforeEach(func() {
		c = &cart.Cart{}
	})

	It("merges repeated adds into one line", func() {
		Expect(c.Add(lamp, 1)).To(Succeed())
		Expect(c.Add(lamp, 2)).To(Succeed())
		Expect(c.Items).To(HaveLen(1))
		Expect(c.Items[0].Quantity).To(Equal(3))
	})

	It("rejects non-positive quantities", func() {
		Expect(c.Add(lamp, 0)).To(MatchError(cart.ErrInvalidQuantity))
		Expect(c.Items).To(BeEmpty())
	})

	It("removes a line when its quantity drops below one", func() {
		Expect(c.Add(lamp, 2)).To(Succeed())
		c.SetQuantity("p1", 0)
		Expect(c.Items).To(BeEmpty())
	})

	It("counts units and sums the subtotal in cents", func() {
		Expect(c.Add(notebook, 3)).To(Succeed())
		Expect(c.Add(lamp, 1)).To(Succeed())
		Expect(c.Count()).To(Equal(4))
		Expect(c.Subtotal()).To(Equal(39.97))
	})

	It("ignores removal of unknown products", func() {
		Expect(c.Add(lamp, 1)).To(Succeed())
		c.Remove("ghost")
		Expect(c.Items).To(HaveLen(1))
	})

	It("keeps the wishlist free of duplicates", func() {
		c.AddToWishlist(lamp)
		c.AddToWishlist(lamp)
		Expect(c.Wishlist).To(HaveLen(1))
		Expect(c.InWishlist("p1")).To(BeTrue())

		c.RemoveFromWishlist("p1")
		Expect(c.InWishlist("p1")).To(BeFalse())
	})
})

type failingPersister struct {
	cart.Persister
	err error
}

func (f *failingPersister) Save(ctx context.Context, key string, c *cart.Cart) error {
	return f.err
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		dir   string
		files *cart.FileStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dir, err = os.MkdirTemp("", "cart-test")
		Expect(err).NotTo(HaveOccurred())
		files, err = cart.NewFileStore(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("refuses mutations before Load", func() {
		s := cart.NewStore(files, "u1")
		Expect(s.Add(ctx, lamp, 1)).To(MatchError(cart.ErrNotLoaded))
	})

	It("starts empty for an unknown key", func() {
		s, err := cart.Open(ctx, files, "u1")
		Expect(err).NotTo(HaveOccurred())
		snap, err := s.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Items).To(BeEmpty())
	})

	It("saves every mutation", func() {
		s, err := cart.Open(ctx, files, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Add(ctx, lamp, 2)).To(Succeed())
		Expect(s.AddToWishlist(ctx, notebook)).To(Succeed())

		reopened, err := cart.Open(ctx, files, "u1")
		Expect(err).NotTo(HaveOccurred())
		snap, err := reopened.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Count()).To(Equal(2))
		Expect(snap.InWishlist("p2")).To(BeTrue())

		Expect(reopened.Clear(ctx)).To(Succeed())
		again, err := cart.Open(ctx, files, "u1")
		Expect(err).NotTo(HaveOccurred())
		snap, err = again.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Items).To(BeEmpty())
		Expect(snap.Wishlist).To(HaveLen(1))
	})

	It("keeps carts for different keys apart", func() {
		a, err := cart.Open(ctx, files, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Add(ctx, lamp, 1)).To(Succeed())

		b, err := cart.Open(ctx, files, "u2/../u1")
		Expect(err).NotTo(HaveOccurred())
		snap, err := b.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Items).To(BeEmpty())
	})

	It("leaves the cart unchanged when a save fails", func() {
		s, err := cart.Open(ctx, &failingPersister{Persister: files, err: errors.New("disk full")}, "u1")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Add(ctx, lamp, 1)).To(MatchError(ContainSubstring("disk full")))
		snap, err := s.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Items).To(BeEmpty())
	})

	It("deletes idempotently", func() {
		Expect(files.Delete(ctx, "nobody")).To(Succeed())
	})
})

var _ = Describe("RedisStore", func() {
	var (
		ctx   context.Context
		redis *cart.RedisStore
	)

	BeforeEach(func() {
		url := os.Getenv("REDIS_URL")
		if url == "" {
			Skip("REDIS_URL not set")
		}
		ctx = context.Background()
		var err error
		redis, err = cart.NewRedisStore(url, time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if redis != nil {
			redis.Delete(ctx, "cart-suite-user")
			redis.Close()
		}
	})

	It("round-trips a cart", func() {
		s, err := cart.Open(ctx, redis, "cart-suite-user")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Add(ctx, notebook, 3)).To(Succeed())

		c, err := redis.Load(ctx, "cart-suite-user")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Items).To(HaveLen(1))
		Expect(c.Items[0].Quantity).To(Equal(3))
	})
})
