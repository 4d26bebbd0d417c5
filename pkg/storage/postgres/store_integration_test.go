//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// setupPostgres starts a disposable PostgreSQL container with the schema applied
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("wasteintel_test"),
		tcpostgres.WithUsername("wasteintel"),
		tcpostgres.WithPassword("wasteintel_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, EnsureSchema(ctx, db))
	// second run is a no-op
	require.NoError(t, EnsureSchema(ctx, db))
	return db
}

func TestStoreIntegration(t *testing.T) {
	db := setupPostgres(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := db.ExecContext(ctx, `INSERT INTO companies (id, name) VALUES ('c1', 'Acme Waste'), ('c2', 'Zeta Recycling')`)
	require.NoError(t, err)

	admin := &auth.UserProfile{ID: "admin1", Email: "admin@example.com", Role: auth.RoleAdmin, IsActive: true}
	require.NoError(t, store.CreateProfile(ctx, admin, "adminhash"))
	user := &auth.UserProfile{ID: "u1", Email: "u1@example.com", Role: auth.RoleViewer, IsActive: true}
	require.NoError(t, store.CreateProfile(ctx, user, "hash"))

	t.Run("duplicate email conflicts", func(t *testing.T) {
		dup := &auth.UserProfile{ID: "u2", Email: "u1@example.com", Role: auth.RoleViewer, IsActive: true}
		assert.ErrorIs(t, store.CreateProfile(ctx, dup, ""), auth.ErrConflict)
	})

	t.Run("lockout after threshold", func(t *testing.T) {
		var p *auth.UserProfile
		for i := 0; i < 5; i++ {
			p, err = store.RecordLoginFailure(ctx, "u1", 5, 30*time.Minute, now)
			require.NoError(t, err)
		}
		assert.Equal(t, 5, p.FailedLoginAttempts)
		assert.True(t, p.IsLocked(now))

		require.NoError(t, store.RecordLoginSuccess(ctx, "u1", now))
		p, err = store.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, p.FailedLoginAttempts)
		assert.Nil(t, p.LockedUntil)
		assert.Nil(t, p.PasswordChangedAt)
		assert.Equal(t, 1, p.LoginCount)
	})

	t.Run("grant lifecycle", func(t *testing.T) {
		grantedBy := "admin1"
		grant := &auth.CompanyAccessGrant{
			UserID: "u1", CompanyID: "c1", Role: auth.RoleViewer,
			Permissions: auth.DefaultPermissions(auth.RoleViewer), GrantedBy: &grantedBy, GrantedAt: now,
		}
		previous, err := store.UpsertGrant(ctx, grant)
		require.NoError(t, err)
		assert.Nil(t, previous)

		grants, err := store.ListEffectiveGrants(ctx, "u1", now)
		require.NoError(t, err)
		require.Len(t, grants, 1)
		assert.Equal(t, "Acme Waste", grants[0].CompanyName)

		_, err = store.DeactivateGrant(ctx, "u1", "c1", now)
		require.NoError(t, err)
		_, err = store.DeactivateGrant(ctx, "u1", "c1", now)
		require.NoError(t, err)

		grants, err = store.ListEffectiveGrants(ctx, "u1", now)
		require.NoError(t, err)
		assert.Empty(t, grants)

		// reactivation reuses the single row
		previous, err = store.UpsertGrant(ctx, grant)
		require.NoError(t, err)
		require.NotNil(t, previous)
		assert.False(t, previous.IsActive)
		assert.Equal(t, previous.ID, grant.ID)
	})

	t.Run("invitation accepted once", func(t *testing.T) {
		companyID := "c2"
		_, hash, err := auth.GenerateToken(auth.InvitationTokenPrefix)
		require.NoError(t, err)
		inv := &auth.Invitation{
			ID: "i1", Email: "u1@example.com", InvitedBy: "admin1", CompanyID: &companyID,
			Role: auth.RoleAnalyst, Permissions: auth.DefaultPermissions(auth.RoleAnalyst),
			TokenHash: hash, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}
		require.NoError(t, store.CreateInvitation(ctx, inv))

		accepted, grant, err := store.AcceptInvitation(ctx, hash, "u1", now)
		require.NoError(t, err)
		assert.Equal(t, auth.InvitationAccepted, accepted.Status)
		assert.Equal(t, "c2", grant.CompanyID)

		_, _, err = store.AcceptInvitation(ctx, hash, "u1", now)
		assert.ErrorIs(t, err, auth.ErrInvitationNotPending)

		again, err := store.GetInvitationByTokenHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, auth.InvitationAccepted, again.Status)
	})
}
