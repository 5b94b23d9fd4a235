package ledger

import (
	"errors"
	"testing"
	"time"

	"CipherLedger/internal/oracle"
)

func tokenOf(b byte) oracle.Token {
	var t oracle.Token
	t[0] = b
	return t
}

func issue(t *testing.T, c *Correlator, target Target, token oracle.Token) {
	t.Helper()

	got, err := c.Issue(target, func() (oracle.Token, error) { return token, nil })
	if err != nil {
		t.Fatalf("issue %v: %v", target, err)
	}
	if got != token {
		t.Fatalf("issued token = %s, want %s", got.String(), token.String())
	}
}

func TestCorrelatorIssueResolve(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindSubmissionReveal, Key: "7"}
	token := tokenOf(1)

	issue(t, c, target, token)

	if !c.Pending(target) {
		t.Fatal("slot not pending after issue")
	}

	got, err := c.Resolve(token, func(Target) bool { return true })
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != target {
		t.Fatalf("resolved target = %v, want %v", got, target)
	}

	if c.Pending(target) {
		t.Fatal("slot still pending after resolve")
	}

	// The consumed token is indistinguishable from one never issued.
	if _, err := c.Resolve(token, func(Target) bool { return true }); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("second resolve: got %v, want ErrUnknownRequest", err)
	}
}

func TestCorrelatorRejectsSecondIssue(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindBucketReveal, Key: "Medical"}

	issue(t, c, target, tokenOf(1))

	_, err := c.Issue(target, func() (oracle.Token, error) {
		t.Fatal("engine invoked for an occupied slot")
		return oracle.Token{}, nil
	})
	if !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second issue: got %v, want ErrAlreadyPending", err)
	}

	// A different key under the same kind is a distinct slot.
	issue(t, c, Target{Kind: KindBucketReveal, Key: "Legal"}, tokenOf(2))
}

func TestCorrelatorReleasesSlotOnEngineFailure(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindSubmissionReveal, Key: "7"}

	_, err := c.Issue(target, func() (oracle.Token, error) {
		return oracle.Token{}, errors.New("engine down")
	})
	if err == nil {
		t.Fatal("issue with failing engine succeeded")
	}

	if c.Pending(target) {
		t.Fatal("failed issue left the slot reserved")
	}

	issue(t, c, target, tokenOf(1))
}

func TestCorrelatorFailedVerificationKeepsSlot(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindSubmissionReveal, Key: "7"}
	token := tokenOf(1)

	issue(t, c, target, token)

	if _, err := c.Resolve(token, func(Target) bool { return false }); !errors.Is(err, ErrProofVerification) {
		t.Fatalf("resolve with failing verify: got %v, want ErrProofVerification", err)
	}

	if !c.Pending(target) {
		t.Fatal("failed verification consumed the slot")
	}

	// A retry with a passing proof still resolves.
	if _, err := c.Resolve(token, func(Target) bool { return true }); err != nil {
		t.Fatalf("retry resolve: %v", err)
	}
}

func TestCorrelatorResolveWaitsForBind(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindSubmissionReveal, Key: "7"}
	token := tokenOf(1)

	resolved := make(chan error, 1)

	got, err := c.Issue(target, func() (oracle.Token, error) {
		// The engine delivers callbacks on its own goroutine, so the
		// resolve can land before Issue has bound the token.
		go func() {
			_, err := c.Resolve(token, func(Target) bool { return true })
			resolved <- err
		}()

		time.Sleep(20 * time.Millisecond)

		return token, nil
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got != token {
		t.Fatalf("issued token = %s, want %s", got.String(), token.String())
	}

	if err := <-resolved; err != nil {
		t.Fatalf("resolve racing the bind: %v", err)
	}

	if c.Pending(target) {
		t.Fatal("slot still pending after resolve")
	}
}

func TestCorrelatorForgedTokenDuringIssue(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindBucketReveal, Key: "Medical"}
	forged := tokenOf(9)

	resolved := make(chan error, 1)

	issue(t, c, target, tokenOf(1))

	_, err := c.Issue(Target{Kind: KindBucketReveal, Key: "Legal"}, func() (oracle.Token, error) {
		go func() {
			_, err := c.Resolve(forged, func(Target) bool { return true })
			resolved <- err
		}()

		time.Sleep(20 * time.Millisecond)

		return tokenOf(2), nil
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// The forged token is rejected once all binds have settled.
	if err := <-resolved; !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("forged resolve: got %v, want ErrUnknownRequest", err)
	}

	if n := c.PendingCount(); n != 2 {
		t.Fatalf("pending count = %d, want 2", n)
	}
}

func TestCorrelatorForceClear(t *testing.T) {
	c := NewCorrelator()
	target := Target{Kind: KindBucketReveal, Key: "Medical"}
	token := tokenOf(1)

	issue(t, c, target, token)

	if !c.ForceClear(target) {
		t.Fatal("force-clear of pending slot returned false")
	}

	if _, err := c.Resolve(token, func(Target) bool { return true }); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("resolve after force-clear: got %v, want ErrUnknownRequest", err)
	}

	if c.ForceClear(target) {
		t.Fatal("force-clear of empty slot returned true")
	}

	issue(t, c, target, tokenOf(2))
}

func TestCorrelatorPendingCount(t *testing.T) {
	c := NewCorrelator()

	issue(t, c, Target{Kind: KindSubmissionReveal, Key: "1"}, tokenOf(1))
	issue(t, c, Target{Kind: KindBucketReveal, Key: "Medical"}, tokenOf(2))

	if n := c.PendingCount(); n != 2 {
		t.Fatalf("pending count = %d, want 2", n)
	}

	if _, err := c.Resolve(tokenOf(1), func(Target) bool { return true }); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if n := c.PendingCount(); n != 1 {
		t.Fatalf("pending count after resolve = %d, want 1", n)
	}
}
