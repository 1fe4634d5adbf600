package token_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/friendrelay/friendrelay/internal/testhelpers"
	"github.com/friendrelay/friendrelay/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchangerFunc adapts a function to the Exchanger interface.
type exchangerFunc func(ctx context.Context, cred credential.Credential) (string, error)

func (f exchangerFunc) Exchange(ctx context.Context, cred credential.Credential) (string, error) {
	return f(ctx, cred)
}

func credentials(n int) []credential.Credential {
	creds := make([]credential.Credential, n)
	for i := range creds {
		creds[i] = credential.Credential{Identity: fmt.Sprintf("u%d", i), Secret: "p"}
	}
	return creds
}

func TestProvider_ReturnsOnlySuccessfulTokens(t *testing.T) {
	for _, n := range []int{1, 7, 50} {
		t.Run(fmt.Sprintf("%d credentials", n), func(t *testing.T) {
			var calls atomic.Int32
			// every third identity fails
			exchanger := exchangerFunc(func(_ context.Context, cred credential.Credential) (string, error) {
				calls.Add(1)
				var i int
				_, _ = fmt.Sscanf(cred.Identity, "u%d", &i)
				if i%3 == 0 {
					return "", errors.New("rejected")
				}
				return "tok-" + cred.Identity, nil
			})

			expected := []string{}
			for i := 0; i < n; i++ {
				if i%3 != 0 {
					expected = append(expected, fmt.Sprintf("tok-u%d", i))
				}
			}

			tokens := token.NewProvider(exchanger, time.Second).Refresh(context.Background(), credentials(n))

			sort.Strings(tokens)
			sort.Strings(expected)
			assert.Equal(t, expected, tokens)
			assert.Equal(t, int32(n), calls.Load())
		})
	}
}

func TestProvider_EmptyCredentialsMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	exchanger := exchangerFunc(func(context.Context, credential.Credential) (string, error) {
		calls.Add(1)
		return "x", nil
	})

	tokens := token.NewProvider(exchanger, time.Second).Refresh(context.Background(), nil)

	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
	assert.Zero(t, calls.Load())
}

func TestProvider_KeepsDuplicates(t *testing.T) {
	exchanger := exchangerFunc(func(context.Context, credential.Credential) (string, error) {
		return "same", nil
	})

	tokens := token.NewProvider(exchanger, time.Second).Refresh(context.Background(), credentials(3))

	assert.Equal(t, []string{"same", "same", "same"}, tokens)
}

func TestProvider_ExchangesRunConcurrently(t *testing.T) {
	exchanger := exchangerFunc(func(ctx context.Context, cred credential.Credential) (string, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "tok-" + cred.Identity, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	start := time.Now()
	tokens := token.NewProvider(exchanger, 5*time.Second).Refresh(context.Background(), credentials(20))

	assert.Len(t, tokens, 20)
	// sequential exchanges would take 4s
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProvider_SlowExchangeBoundedByTimeout(t *testing.T) {
	exchanger := exchangerFunc(func(ctx context.Context, cred credential.Credential) (string, error) {
		if cred.Identity == "u0" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "tok-" + cred.Identity, nil
	})

	start := time.Now()
	tokens := token.NewProvider(exchanger, 150*time.Millisecond).Refresh(context.Background(), credentials(4))
	elapsed := time.Since(start)

	sort.Strings(tokens)
	assert.Equal(t, []string{"tok-u1", "tok-u2", "tok-u3"}, tokens)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestProvider_WithIssuerClient(t *testing.T) {
	testhelpers.SetupLogger(t)
	issuer := testhelpers.SetupMockIssuerServer(t)
	defer issuer.Close()

	issuer.ListShape = true
	issuer.Responses["u1"] = testhelpers.IssuerResponse{StatusCode: http.StatusInternalServerError}
	issuer.Responses["u2"] = testhelpers.IssuerResponse{Body: `{"message": "no token here"}`}
	issuer.Responses["u3"] = testhelpers.IssuerResponse{Delay: 3 * time.Second}

	client, err := token.NewIssuerClient(issuer.URL(), issuer.Server.Client())
	require.NoError(t, err)

	start := time.Now()
	tokens := token.NewProvider(client, 300*time.Millisecond).Refresh(context.Background(), credentials(5))

	sort.Strings(tokens)
	assert.Equal(t, []string{"token-u0", "token-u4"}, tokens)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 5, issuer.RequestCount())
}
