package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	pr "github.com/unkn0wn-root/storecache/provider"
)

func TestQuotaRejectsInsteadOfEvicting(t *testing.T) {
	ctx := context.Background()
	p := New(10)

	if ok, err := p.Set(ctx, "a", []byte("1234"), 0, 0); !ok || err != nil {
		t.Fatalf("first set: ok=%v err=%v", ok, err)
	}
	ok, err := p.Set(ctx, "b", []byte("123456"), 0, 0)
	if ok || !errors.Is(err, pr.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got ok=%v err=%v", ok, err)
	}
	if _, hit, _ := p.Get(ctx, "a"); !hit {
		t.Fatalf("existing entry must survive a rejected write")
	}
	if p.Used() != 5 {
		t.Fatalf("used = %d, want 5", p.Used())
	}

	// overwriting reuses the old entry's budget
	if ok, err := p.Set(ctx, "a", []byte("123456789"), 0, 0); !ok || err != nil {
		t.Fatalf("overwrite: ok=%v err=%v", ok, err)
	}
	if err := p.Del(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if p.Used() != 0 {
		t.Fatalf("used after delete = %d", p.Used())
	}
}

func TestSetCopiesValue(t *testing.T) {
	ctx := context.Background()
	p := New(0)
	v := []byte("cart")
	_, _ = p.Set(ctx, "k", v, 0, 0)
	v[0] = 'X'
	got, _, _ := p.Get(ctx, "k")
	if string(got) != "cart" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	p := New(0)
	for _, k := range []string{"shop:http:/cart.js", "shop:snapshot:cart", "shop:http:/products/a.js", "other"} {
		_, _ = p.Set(ctx, k, []byte("x"), 0, 0)
	}
	got, err := p.Keys(ctx, "shop:http:")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shop:http:/cart.js", "shop:http:/products/a.js"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	all, _ := p.Keys(ctx, "")
	if len(all) != 4 {
		t.Fatalf("empty prefix should list everything, got %v", all)
	}
}
