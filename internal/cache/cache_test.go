package cache_test

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/zalando/go-keyring"

	"github.com/iliyamo/marketplace-auth/internal/auth"
	"github.com/iliyamo/marketplace-auth/internal/cache"
	"github.com/iliyamo/marketplace-auth/internal/model"
)

type store interface {
	auth.Cache
	auth.BatchRemover
}

var (
	_ store = (*cache.Memory)(nil)
	_ store = (*cache.Redis)(nil)
	_ store = (*cache.Keyring)(nil)
)

func exercise(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "b", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := s.Get(ctx, "a"); v != "1" || !ok || err != nil {
		t.Fatalf("Get(a) = %q %v %v, want 1 true nil", v, ok, err)
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("a still present after Remove")
	}
	if err := s.Remove(ctx, "never-set"); err != nil {
		t.Fatalf("Remove(never-set): %v", err)
	}
	if err := s.Set(ctx, "c", "3"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveAll(ctx, "b", "c"); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	for _, k := range []string{"b", "c"} {
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Fatalf("%s still present after RemoveAll", k)
		}
	}
}

func TestMemory(t *testing.T) {
	exercise(t, cache.NewMemory())
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	exercise(t, cache.NewKeyring("marketplace-auth-test"))
}

func TestKeyringServesSessionCache(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	kr := cache.NewKeyring("")
	sc := auth.NewSessionCache(kr, model.UserTypeCustomer)
	id := &model.Customer{ID: "c1", UserID: "u1", Email: "a@b.com"}
	if err := sc.Save(ctx, id, "tok"); err != nil {
		t.Fatal(err)
	}
	// A second handle on the same service sees the same entry.
	cs, ok, err := auth.NewSessionCache(cache.NewKeyring(""), model.UserTypeCustomer).Load(ctx)
	if err != nil || !ok || cs.AccessToken != "tok" {
		t.Fatalf("Load() = %+v ok=%v err=%v", cs, ok, err)
	}
	if err := sc.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := keyring.Get(cache.DefaultKeyringService, "session"); err != keyring.ErrNotFound {
		t.Fatalf("keyring entry after Clear: err = %v, want ErrNotFound", err)
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	exercise(t, cache.NewRedis(client, cache.WithPrefix("test:"+t.Name()+":")))
}
