package grpc

import (
	"context"
	"errors"
	"testing"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/stores/fs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeResolver maps tokens to identities; err is returned for every lookup if set
type fakeResolver struct {
	identities map[string]*sa.Identity
	err        error
}

func (f *fakeResolver) ResolveToken(ctx context.Context, token string) (*sa.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identities[token], nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{identities: map[string]*sa.Identity{
		"good-token": {ID: "id-1", Username: "alice", DisplayName: "alice"},
	}}
}

func withToken(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultMetadataKeySessionToken, token))
}

func expectCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", code)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != code {
		t.Errorf("expected %v code, got %v", code, st.Code())
	}
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(newFakeResolver())
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil || config.MetadataKeySessionToken != "x-session-token" {
		t.Error("expected default metadata key")
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	tests := []struct {
		name       string
		config     *InterceptorConfig
		ctx        context.Context
		method     string
		wantCode   codes.Code
		wantCalled bool
		wantUser   string
	}{
		{"no token", DefaultInterceptorConfig(newFakeResolver()), context.Background(), "/pkg.Svc/Method", codes.Unauthenticated, false, ""},
		{"unknown token", DefaultInterceptorConfig(newFakeResolver()), withToken("bogus"), "/pkg.Svc/Method", codes.Unauthenticated, false, ""},
		{"valid token", DefaultInterceptorConfig(newFakeResolver()), withToken("good-token"), "/pkg.Svc/Method", codes.OK, true, "id-1"},
		{"public method", NewPublicMethodsConfig(newFakeResolver(), "/pkg.Svc/Public"), context.Background(), "/pkg.Svc/Public", codes.OK, true, ""},
		{"public method with token", NewPublicMethodsConfig(newFakeResolver(), "/pkg.Svc/Public"), withToken("good-token"), "/pkg.Svc/Public", codes.OK, true, "id-1"},
		{"optional auth", OptionalAuthConfig(newFakeResolver()), context.Background(), "/pkg.Svc/Method", codes.OK, true, ""},
		{"store failure", DefaultInterceptorConfig(&fakeResolver{err: errors.New("db down")}), withToken("good-token"), "/pkg.Svc/Method", codes.Internal, false, ""},
		{"store failure optional", OptionalAuthConfig(&fakeResolver{err: errors.New("db down")}), withToken("good-token"), "/pkg.Svc/Method", codes.OK, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UnaryAuthInterceptor(tt.config)
			called := false
			var gotUser string
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, func(ctx context.Context, req any) (any, error) {
				called = true
				if identity, ok := IdentityFromContext(ctx); ok {
					gotUser = identity.ID
				}
				return "result", nil
			})

			if tt.wantCode == codes.OK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else {
				expectCode(t, err, tt.wantCode)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if gotUser != tt.wantUser {
				t.Errorf("identity = %q, want %q", gotUser, tt.wantUser)
			}
		})
	}
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(newFakeResolver()))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	t.Run("rejects anonymous", func(t *testing.T) {
		err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
			t.Error("handler should not be called")
			return nil
		})
		expectCode(t, err, codes.Unauthenticated)
	})

	t.Run("passes identity", func(t *testing.T) {
		var gotUser string
		err := interceptor(nil, &mockServerStream{ctx: withToken("good-token")}, info, func(srv any, ss grpc.ServerStream) error {
			if !IsAuthenticated(ss.Context()) {
				t.Error("expected stream context to be authenticated")
			}
			identity, _ := IdentityFromContext(ss.Context())
			gotUser = identity.ID
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotUser != "id-1" {
			t.Errorf("expected id-1, got %q", gotUser)
		}
	})
}

func TestSessionTokenRoundTrip(t *testing.T) {
	out := SessionTokenToOutgoingContext(context.Background(), "abc")
	md, _ := metadata.FromOutgoingContext(out)
	in := metadata.NewIncomingContext(context.Background(), md)
	if got := SessionTokenFromContext(in, nil); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	if got := SessionTokenFromContext(context.Background(), nil); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}

// A token issued over HTTP is accepted by the interceptor and stops working
// once revoked.
func TestInterceptorWithSessionManager(t *testing.T) {
	store := fs.NewFSIdentityStore(t.TempDir())
	sessions := sa.NewSessionManager(store, sa.SessionConfig{})
	alice := sa.NewIdentity("alice", "", "alice")
	if err := store.Insert(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	ctx, err := sessions.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	token, err := sessions.Issue(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}

	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(sessions))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}
	handler := func(ctx context.Context, req any) (any, error) {
		identity, _ := IdentityFromContext(ctx)
		return identity.ID, nil
	}

	resp, err := interceptor(withToken(token), nil, info, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != alice.ID {
		t.Errorf("expected %s, got %v", alice.ID, resp)
	}

	if err := sessions.RevokeToken(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	_, err = interceptor(withToken(token), nil, info, handler)
	expectCode(t, err, codes.Unauthenticated)
}
