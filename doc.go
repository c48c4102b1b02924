// Package secretauth provides local and federated authentication with server
// side sessions for small multi-user web applications.
//
// Every user is one durable Identity, however they log in. An identity can
// carry a local credential (username plus bcrypt hash), a federated key
// ("<provider>:<subject>") or both. The IdentityStore enforces uniqueness of
// both keys so concurrent first logins never create duplicates.
//
// # Architecture
//
// LocalAuth: registers and verifies username/password credentials. Unknown
// usernames and wrong passwords are indistinguishable to the client.
//
// FederatedResolver: maps a profile returned by an oauth2.Provider onto
// exactly one identity, creating it on first login.
//
// SessionManager: binds opaque random session tokens to identity IDs on top
// of scs. Tokens say nothing about the identity.
//
// Middleware: the one gate in front of protected routes. Anonymous page loads
// are sent to the login page, anonymous actions get a 401.
//
// # Basic Usage
//
//	store, _ := fs.NewFSIdentityStore("/path/to/data")
//	sessions := secretauth.NewSessionManager(store, secretauth.SessionConfig{Secure: true})
//
//	auth := secretauth.New(store, sessions)
//	google := oauth2.NewGoogle(clientID, clientSecret, "https://example.com/auth/google/callback")
//	google.StateSecret = []byte(stateSecret)
//	auth.AddProvider(google)
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/", http.StripPrefix("/auth", auth.Handler()))
//	mux.Handle("/submit", auth.Middleware.RequireAuth(submitHandler))
//	http.ListenAndServe(":8080", sessions.LoadAndSave(mux))
//
// Handlers get the logged in identity with IdentityFromContext.
package secretauth
