package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// Test helper to create a store backed by sqlmock
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, WithQueryTimeout(time.Second), WithMetrics(observability.NewTestMetrics())), mock
}

var profileRowColumns = []string{
	"id", "email", "full_name", "role", "is_active", "email_verified", "two_factor_enabled",
	"failed_login_attempts", "locked_until", "password_changed_at", "login_count", "last_login_at",
	"created_at", "updated_at",
}

func profileRows(id, email string, attempts int64, lockedUntil interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(profileRowColumns).AddRow(
		id, email, "Test User", "viewer", true, true, false,
		attempts, lockedUntil, nil, int64(3), nil, testNow, testNow,
	)
}

var grantRowColumns = []string{
	"id", "user_id", "company_id", "name", "role", "permissions",
	"granted_by", "granted_at", "expires_at", "is_active",
}

func TestGetProfile(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM user_profiles WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(profileRows("u1", "u1@example.com", 0, nil))

		p, err := store.GetProfile(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", p.ID)
		assert.Equal(t, auth.RoleViewer, p.Role)
		assert.Nil(t, p.LockedUntil)
		assert.Nil(t, p.PasswordChangedAt)
		assert.Equal(t, 3, p.LoginCount)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM user_profiles WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetProfile(context.Background(), "missing")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	t.Run("by email is case-insensitive", func(t *testing.T) {
		mock.ExpectQuery(`FROM user_profiles WHERE lower\(email\) = lower\(\$1\)`).
			WithArgs("U1@Example.com").
			WillReturnRows(profileRows("u1", "u1@example.com", 0, nil))

		p, err := store.GetProfileByEmail(context.Background(), "U1@Example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1@example.com", p.Email)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProfile(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("with credentials", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_profiles`).
			WithArgs("u1", "u1@example.com", "U One", "viewer", true, false, nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow))
		mock.ExpectExec(`INSERT INTO user_credentials \(user_id, password_hash\)`).
			WithArgs("u1", "hash").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		profile := &auth.UserProfile{ID: "u1", Email: "u1@example.com", FullName: "U One", Role: auth.RoleViewer, IsActive: true}
		require.NoError(t, store.CreateProfile(context.Background(), profile, "hash"))
		assert.Equal(t, testNow, profile.CreatedAt)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_profiles`).
			WillReturnError(&pq.Error{Code: pgUniqueViolation, Constraint: "user_profiles_email_key"})
		mock.ExpectRollback()

		profile := &auth.UserProfile{ID: "u2", Email: "u1@example.com", Role: auth.RoleViewer, IsActive: true}
		err := store.CreateProfile(context.Background(), profile, "")
		assert.ErrorIs(t, err, auth.ErrConflict)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfile(t *testing.T) {
	store, mock := newMockStore(t)

	name := "New Name"
	active := false
	mock.ExpectQuery(`UPDATE user_profiles SET full_name = \$1, is_active = \$2, updated_at = NOW\(\) WHERE id = \$3 RETURNING`).
		WithArgs("New Name", false, "u1").
		WillReturnRows(profileRows("u1", "u1@example.com", 0, nil))

	_, err := store.UpdateProfile(context.Background(), "u1", auth.ProfileUpdate{FullName: &name, IsActive: &active})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLoginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	lockedUntil := testNow.Add(30 * time.Minute)

	mock.ExpectQuery(`UPDATE user_profiles SET failed_login_attempts = CASE`).
		WithArgs("u1", 5, lockedUntil, testNow).
		WillReturnRows(profileRows("u1", "u1@example.com", 5, lockedUntil))

	p, err := store.RecordLoginFailure(context.Background(), "u1", 5, 30*time.Minute, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, p.FailedLoginAttempts)
	assert.True(t, p.IsLocked(testNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLoginSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("resets counter without touching password_changed_at", func(t *testing.T) {
		mock.ExpectExec(`SET failed_login_attempts = 0, locked_until = NULL, login_count = login_count \+ 1, last_login_at = \$2, updated_at = \$2 WHERE id = \$1`).
			WithArgs("u1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RecordLoginSuccess(context.Background(), "u1", testNow))
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_profiles`).
			WithArgs("ghost", testNow).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.RecordLoginSuccess(context.Background(), "ghost", testNow), auth.ErrUserNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordHash(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("get missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT password_hash FROM user_credentials WHERE user_id = \$1`).
			WithArgs("u1").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetPasswordHash(context.Background(), "u1")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("set records password_changed_at", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE user_profiles SET password_changed_at = \$2`).
			WithArgs("u1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO user_credentials .* ON CONFLICT \(user_id\) DO UPDATE`).
			WithArgs("u1", "newhash", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.SetPasswordHash(context.Background(), "u1", "newhash", testNow))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEffectiveGrants(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(grantRowColumns).
		AddRow(int64(1), "u1", "c1", "Acme Waste", "viewer", []byte(`{"read":true}`), nil, testNow, nil, true).
		AddRow(int64(2), "u1", "c2", "Zeta Recycling", "manager", []byte(`{"read":true,"write":true}`), "admin1", testNow, testNow.Add(time.Hour), true)

	mock.ExpectQuery(`FROM user_company_access a LEFT JOIN companies c .* WHERE a.user_id = \$1 AND a.is_active AND \(a.expires_at IS NULL OR a.expires_at > \$2\) ORDER BY c.name ASC`).
		WithArgs("u1", testNow).
		WillReturnRows(rows)

	grants, err := store.ListEffectiveGrants(context.Background(), "u1", testNow)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "Acme Waste", grants[0].CompanyName)
	assert.True(t, grants[0].Permissions.Read)
	assert.False(t, grants[0].Permissions.Write)
	assert.Nil(t, grants[0].GrantedBy)
	assert.Equal(t, "admin1", *grants[1].GrantedBy)
	assert.True(t, grants[1].Permissions.Write)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertGrant(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("new grant", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`WHERE a.user_id = \$1 AND a.company_id = \$2 FOR UPDATE OF a`).
			WithArgs("u1", "c1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO user_company_access .* ON CONFLICT \(user_id, company_id\) DO UPDATE`).
			WithArgs("u1", "c1", "viewer", sqlmock.AnyArg(), nil, testNow, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectCommit()

		grant := &auth.CompanyAccessGrant{
			UserID: "u1", CompanyID: "c1", Role: auth.RoleViewer,
			Permissions: auth.DefaultPermissions(auth.RoleViewer), GrantedAt: testNow,
		}
		previous, err := store.UpsertGrant(context.Background(), grant)
		require.NoError(t, err)
		assert.Nil(t, previous)
		assert.Equal(t, int64(7), grant.ID)
		assert.True(t, grant.IsActive)
	})

	t.Run("unknown company", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE OF a`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO user_company_access`).
			WillReturnError(&pq.Error{Code: pgForeignKeyViolation, Constraint: "user_company_access_company_id_fkey"})
		mock.ExpectRollback()

		grant := &auth.CompanyAccessGrant{UserID: "u1", CompanyID: "nope", Role: auth.RoleViewer, GrantedAt: testNow}
		_, err := store.UpsertGrant(context.Background(), grant)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateGrant(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("active grant", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE OF a`).
			WithArgs("u1", "c1").
			WillReturnRows(sqlmock.NewRows(grantRowColumns).
				AddRow(int64(7), "u1", "c1", "Acme Waste", "viewer", []byte(`{"read":true}`), nil, testNow, nil, true))
		mock.ExpectExec(`UPDATE user_company_access SET is_active = FALSE`).
			WithArgs(int64(7), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		previous, err := store.DeactivateGrant(context.Background(), "u1", "c1", testNow)
		require.NoError(t, err)
		assert.True(t, previous.IsActive)
	})

	t.Run("already inactive is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE OF a`).
			WithArgs("u1", "c1").
			WillReturnRows(sqlmock.NewRows(grantRowColumns).
				AddRow(int64(7), "u1", "c1", "Acme Waste", "viewer", []byte(`{"read":true}`), nil, testNow, nil, false))
		mock.ExpectCommit()

		previous, err := store.DeactivateGrant(context.Background(), "u1", "c1", testNow)
		require.NoError(t, err)
		assert.False(t, previous.IsActive)
	})

	t.Run("absent", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE OF a`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.DeactivateGrant(context.Background(), "u1", "c9", testNow)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGrantRole_ExpiredGrant(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF a`).
		WithArgs("u1", "c1").
		WillReturnRows(sqlmock.NewRows(grantRowColumns).
			AddRow(int64(7), "u1", "c1", "Acme Waste", "viewer", []byte(`{}`), nil, testNow, testNow.Add(-time.Minute), true))
	mock.ExpectRollback()

	_, err := store.UpdateGrantRole(context.Background(), "u1", "c1", auth.RoleManager, auth.DefaultPermissions(auth.RoleManager), testNow)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessions(t *testing.T) {
	store, mock := newMockStore(t)

	sessionCols := []string{
		"id", "user_id", "session_token_hash", "refresh_token_hash", "expires_at", "refresh_expires_at",
		"last_activity_at", "is_active", "login_method", "ip_address", "user_agent", "logout_at", "logout_reason", "created_at",
	}

	t.Run("get", func(t *testing.T) {
		mock.ExpectQuery(`FROM user_sessions WHERE id = \$1`).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(
				"s1", "u1", "th", "rh", testNow.Add(time.Hour), testNow.Add(24*time.Hour),
				testNow, true, "password", "10.0.0.1", "curl", nil, nil, testNow,
			))

		sess, err := store.GetSession(context.Background(), "s1")
		require.NoError(t, err)
		assert.True(t, sess.IsLive(testNow))
		assert.Equal(t, auth.LoginMethodPassword, sess.LoginMethod)
	})

	t.Run("get missing", func(t *testing.T) {
		mock.ExpectQuery(`FROM user_sessions WHERE id = \$1`).WillReturnError(sql.ErrNoRows)
		_, err := store.GetSession(context.Background(), "nope")
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	})

	t.Run("end twice", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_sessions SET is_active = FALSE, logout_at = \$2, logout_reason = \$3 WHERE id = \$1 AND is_active`).
			WithArgs("s1", testNow, auth.LogoutReasonUser).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`WHERE id = \$1 AND is_active`).
			WithArgs("s1", testNow, auth.LogoutReasonUser).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ended, err := store.EndSession(context.Background(), "s1", auth.LogoutReasonUser, testNow)
		require.NoError(t, err)
		assert.True(t, ended)

		ended, err = store.EndSession(context.Background(), "s1", auth.LogoutReasonUser, testNow)
		require.NoError(t, err)
		assert.False(t, ended)
	})

	t.Run("rotate ended session", func(t *testing.T) {
		mock.ExpectExec(`UPDATE user_sessions SET session_token_hash = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.RotateSession(context.Background(), "s1", "th2", "rh2", testNow.Add(time.Hour), testNow)
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	})

	t.Run("expire", func(t *testing.T) {
		mock.ExpectExec(`WHERE is_active AND expires_at <= \$1 AND refresh_expires_at <= \$1`).
			WithArgs(testNow, auth.LogoutReasonExpired).
			WillReturnResult(sqlmock.NewResult(0, 4))

		n, err := store.ExpireSessions(context.Background(), testNow)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

var invitationCols = []string{
	"id", "email", "invited_by", "company_id", "role", "permissions", "token_hash", "status",
	"expires_at", "created_at", "accepted_at", "accepted_by",
}

func TestAcceptInvitation(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("pending company invitation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM invitations WHERE token_hash = \$1 FOR UPDATE`).
			WithArgs("hash1").
			WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
				"i1", "new@example.com", "admin1", "c1", "analyst", []byte(`{"read":true,"export":true}`), "hash1", "pending",
				testNow.Add(time.Hour), testNow, nil, nil,
			))
		mock.ExpectQuery(`INSERT INTO user_company_access`).
			WithArgs("u9", "c1", "analyst", sqlmock.AnyArg(), "admin1", testNow, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectExec(`UPDATE invitations SET status = \$2, accepted_at = \$3, accepted_by = \$4 WHERE id = \$1 AND status = \$5`).
			WithArgs("i1", "accepted", testNow, "u9", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inv, grant, err := store.AcceptInvitation(context.Background(), "hash1", "u9", testNow)
		require.NoError(t, err)
		assert.Equal(t, auth.InvitationAccepted, inv.Status)
		require.NotNil(t, grant)
		assert.Equal(t, int64(11), grant.ID)
		assert.True(t, grant.Permissions.Export)
	})

	t.Run("platform invitation raises the profile role", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM invitations WHERE token_hash = \$1 FOR UPDATE`).
			WithArgs("hash3").
			WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
				"i3", "boss@example.com", "admin1", nil, "manager", []byte(`{}`), "hash3", "pending",
				testNow.Add(time.Hour), testNow, nil, nil,
			))
		mock.ExpectQuery(`SELECT role FROM user_profiles WHERE id = \$1 FOR UPDATE`).
			WithArgs("u9").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("viewer"))
		mock.ExpectExec(`UPDATE user_profiles SET role = \$2, updated_at = \$3 WHERE id = \$1`).
			WithArgs("u9", "manager", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE invitations SET status = \$2`).
			WithArgs("i3", "accepted", testNow, "u9", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inv, grant, err := store.AcceptInvitation(context.Background(), "hash3", "u9", testNow)
		require.NoError(t, err)
		assert.Equal(t, auth.InvitationAccepted, inv.Status)
		assert.Nil(t, grant)
	})

	t.Run("platform invitation keeps a higher role", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("hash4").
			WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
				"i4", "boss@example.com", "admin1", nil, "analyst", []byte(`{}`), "hash4", "pending",
				testNow.Add(time.Hour), testNow, nil, nil,
			))
		mock.ExpectQuery(`SELECT role FROM user_profiles WHERE id = \$1 FOR UPDATE`).
			WithArgs("u9").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))
		mock.ExpectExec(`UPDATE invitations SET status = \$2`).
			WithArgs("i4", "accepted", testNow, "u9", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, _, err := store.AcceptInvitation(context.Background(), "hash4", "u9", testNow)
		require.NoError(t, err)
	})

	t.Run("already accepted", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM invitations WHERE token_hash = \$1 FOR UPDATE`).
			WithArgs("hash1").
			WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
				"i1", "new@example.com", "admin1", "c1", "analyst", []byte(`{}`), "hash1", "accepted",
				testNow.Add(time.Hour), testNow, testNow, "u9",
			))
		mock.ExpectRollback()

		_, _, err := store.AcceptInvitation(context.Background(), "hash1", "u10", testNow)
		assert.ErrorIs(t, err, auth.ErrInvitationNotPending)
	})

	t.Run("expired", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(invitationCols).AddRow(
				"i2", "late@example.com", "admin1", nil, "viewer", []byte(`{}`), "hash2", "pending",
				testNow.Add(-time.Second), testNow.Add(-time.Hour), nil, nil,
			))
		mock.ExpectRollback()

		_, _, err := store.AcceptInvitation(context.Background(), "hash2", "u10", testNow)
		assert.ErrorIs(t, err, auth.ErrInvitationExpired)
	})

	t.Run("unknown token", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, _, err := store.AcceptInvitation(context.Background(), "nope", "u10", testNow)
		assert.ErrorIs(t, err, auth.ErrInvitationNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeInvitation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE invitations SET status = \$2 WHERE id = \$1 AND status = \$3 RETURNING`).
		WithArgs("i1", "revoked", "pending").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM invitations WHERE id = \$1\)`).
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.RevokeInvitation(context.Background(), "i1")
	assert.ErrorIs(t, err, auth.ErrInvitationNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, "x"))
	assert.ErrorIs(t, mapError(&pq.Error{Code: pgUniqueViolation}, "x"), auth.ErrConflict)
	assert.ErrorIs(t, mapError(&pq.Error{Code: pgForeignKeyViolation}, "x"), auth.ErrNotFound)

	boom := errors.New("boom")
	assert.ErrorIs(t, mapError(boom, "x"), boom)
}

func TestUnexpected(t *testing.T) {
	assert.NoError(t, unexpected(auth.ErrUserNotFound))
	assert.NoError(t, unexpected(auth.ErrConflict))
	assert.Error(t, unexpected(errors.New("connection reset")))
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	store := NewStore(db)
	assert.Error(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
