package security

import (
	"slices"
	"sync"
	"testing"
)

func TestCredentialStore(t *testing.T) {
	t.Parallel()

	s := NewCredentialStore()
	s.Set("tg.token", "123456:AAAA")
	s.Set("fb.app_secret", "shh-secret")
	s.Set("fb.verify_token", "shh")
	s.Set("wc.token", "123456:AAAA")

	if v, ok := s.Get("fb.app_secret"); !ok || v != "shh-secret" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	if got := s.Names(); !slices.Equal(got, []string{"fb.app_secret", "fb.verify_token", "tg.token", "wc.token"}) {
		t.Errorf("Names = %v", got)
	}
	// Distinct, longest first.
	if got := s.Values(); !slices.Equal(got, []string{"123456:AAAA", "shh-secret", "shh"}) {
		t.Errorf("Values = %v", got)
	}

	s.Set("fb.verify_token", "")
	if _, ok := s.Get("fb.verify_token"); ok {
		t.Error("empty value did not remove the credential")
	}
}

func TestCredentialStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewCredentialStore()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "chan" + string(rune('a'+i)) + ".token"
			s.Set(name, name+"-value")
			_ = s.Values()
		}()
	}
	wg.Wait()
	if n := len(s.Names()); n != 8 {
		t.Errorf("len = %d, want 8", n)
	}
}
