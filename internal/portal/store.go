package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/smsportal/pkg/event"
)

var (
	// ErrNotFound は対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("レコードが見つかりません")
	// ErrDuplicateEmail はメールアドレスが既に登録されていることを表す。
	ErrDuplicateEmail = errors.New("メールアドレスは既に登録されています")
	// ErrUnknownRole は存在しないロールが指定されたことを表す。
	ErrUnknownRole = errors.New("ロールが存在しません")
	// ErrResetTokenInvalid はパスワード再設定トークンが使用済みまたは期限切れであることを表す。
	ErrResetTokenInvalid = errors.New("再設定トークンが無効です")
	// ErrOTPAttemptsExhausted はOTPチャレンジの試行回数が上限に達したことを示す。
	ErrOTPAttemptsExhausted = errors.New("試行回数の上限に達しました")
)

// User はポータルの利用者。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Phone        string
	Role         string
	OTPEnabled   bool
	Disabled     bool
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// OTPChallenge は発行中のワンタイムパスワード。
type OTPChallenge struct {
	ID        string
	UserID    string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はnow時点で有効期限が切れているかを返す。
func (o OTPChallenge) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// PasswordReset はパスワード再設定トークンのレコード。
type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Role はロールと付与された権限。
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Store はSQLiteに対するクエリをまとめたもの。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// normalizeEmail はメールアドレスを比較用に正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// isConstraintError はSQLiteの制約違反エラーかどうかを返す。
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// CreateUser はユーザーを登録する。
func (s *Store) CreateUser(ctx context.Context, u User) error {
	ok, err := s.RoleExists(ctx, u.Role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, u.Role)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, phone, role, otp_enabled, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, normalizeEmail(u.Email), u.PasswordHash, u.DisplayName, u.Phone, u.Role,
		boolToInt(u.OTPEnabled), boolToInt(u.Disabled), unix(u.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

const userColumns = `id, email, password_hash, display_name, phone, role, otp_enabled, disabled, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                    User
		otpEnabled, disabled int64
		createdAt, lastLogin int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Phone, &u.Role,
		&otpEnabled, &disabled, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの読み取りに失敗: %w", err)
	}
	u.OTPEnabled = otpEnabled != 0
	u.Disabled = disabled != 0
	u.CreatedAt = fromUnix(createdAt)
	u.LastLoginAt = fromUnix(lastLogin)
	return &u, nil
}

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

// GetUserByID はIDでユーザーを取得する。
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, unix(at), id)
}

// SetUserRole はユーザーのロールを変更し、変更前のロールを返す。
func (s *Store) SetUserRole(ctx context.Context, id, role string) (string, error) {
	ok, err := s.RoleExists(ctx, role)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ロールの取得に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id); err != nil {
		return "", fmt.Errorf("ロールの更新に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("コミットに失敗: %w", err)
	}
	return previous, nil
}

// SetOTPEnabled はユーザーのOTP要否を変更する。
func (s *Store) SetOTPEnabled(ctx context.Context, id string, enabled bool) error {
	return s.execOne(ctx, `UPDATE users SET otp_enabled = ? WHERE id = ?`, boolToInt(enabled), id)
}

// RoleExists はロールが定義されているかを返す。
func (s *Store) RoleExists(ctx context.Context, role string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE name = ?`, role).Scan(&n); err != nil {
		return false, fmt.Errorf("ロールの確認に失敗: %w", err)
	}
	return n > 0, nil
}

// PermissionsForRole はロールに付与された権限を名前順に返す。
func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role = ? ORDER BY permission`, role)
	if err != nil {
		return nil, fmt.Errorf("権限の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("権限の読み取りに失敗: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListRoles はすべてのロールを権限付きで名前順に返す。
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, r.description, COALESCE(p.permission, '')
		FROM roles r
		LEFT JOIN role_permissions p ON p.role = r.name
		ORDER BY r.name, p.permission`)
	if err != nil {
		return nil, fmt.Errorf("ロール一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []Role
	for rows.Next() {
		var name, desc, perm string
		if err := rows.Scan(&name, &desc, &perm); err != nil {
			return nil, fmt.Errorf("ロールの読み取りに失敗: %w", err)
		}
		if len(roles) == 0 || roles[len(roles)-1].Name != name {
			roles = append(roles, Role{Name: name, Description: desc, Permissions: []string{}})
		}
		if perm != "" {
			last := &roles[len(roles)-1]
			last.Permissions = append(last.Permissions, perm)
		}
	}
	return roles, rows.Err()
}

// CreateOTPChallenge はOTPチャレンジを保存する。
// 同じユーザーの未使用チャレンジは破棄し、常に最新の1件だけを有効にする。
func (s *Store) CreateOTPChallenge(ctx context.Context, ch OTPChallenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM otp_challenges WHERE user_id = ?`, ch.UserID); err != nil {
		return fmt.Errorf("既存チャレンジの削除に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO otp_challenges (id, user_id, code_hash, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.UserID, ch.CodeHash, ch.Attempts, unix(ch.ExpiresAt), unix(ch.CreatedAt),
	); err != nil {
		return fmt.Errorf("チャレンジの保存に失敗: %w", err)
	}
	return tx.Commit()
}

// GetOTPChallenge はIDでOTPチャレンジを取得する。
func (s *Store) GetOTPChallenge(ctx context.Context, id string) (*OTPChallenge, error) {
	var (
		ch                   OTPChallenge
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, code_hash, attempts, expires_at, created_at
		FROM otp_challenges WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.UserID, &ch.CodeHash, &ch.Attempts, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("チャレンジの取得に失敗: %w", err)
	}
	ch.ExpiresAt = fromUnix(expiresAt)
	ch.CreatedAt = fromUnix(createdAt)
	return &ch, nil
}

// ClaimOTPAttempt は試行回数がlimit未満の場合に限り1増やし、増やした後の回数を返す。
// 判定と加算は1つのUPDATE文で行うため、同時に呼ばれてもlimitを超えない。
// 上限に達していればErrOTPAttemptsExhausted、チャレンジが無ければErrNotFoundを返す。
func (s *Store) ClaimOTPAttempt(ctx context.Context, id string, limit int) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE otp_challenges SET attempts = attempts + 1
		WHERE id = ? AND attempts < ?
		RETURNING attempts`,
		id, limit,
	).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("試行回数の更新に失敗: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM otp_challenges WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("チャレンジの確認に失敗: %w", err)
	}
	if exists == 0 {
		return 0, ErrNotFound
	}
	return 0, ErrOTPAttemptsExhausted
}

// ConsumeOTPChallenge は検証に成功したチャレンジを削除する。
// 既に削除されていればErrNotFoundを返すため、同じチャレンジで2回サインインできない。
func (s *Store) ConsumeOTPChallenge(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM otp_challenges WHERE id = ?`, id)
}

// DeleteOTPChallenge はOTPチャレンジを削除する。存在しなくてもエラーにしない。
func (s *Store) DeleteOTPChallenge(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE id = ?`, id); err != nil {
		return fmt.Errorf("チャレンジの削除に失敗: %w", err)
	}
	return nil
}

// CreatePasswordReset はパスワード再設定トークンを保存する。
func (s *Store) CreatePasswordReset(ctx context.Context, r PasswordReset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		r.TokenHash, r.UserID, unix(r.ExpiresAt), unix(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("再設定トークンの保存に失敗: %w", err)
	}
	return nil
}

// ResetPassword は再設定トークンを消費してパスワードを更新し、対象ユーザーのIDを返す。
// トークンの検証、パスワード更新、使用済みの記録は1つのトランザクションで行う。
func (s *Store) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		userID            string
		expiresAt, usedAt int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, expires_at, used_at FROM password_resets WHERE token_hash = ?`, tokenHash,
	).Scan(&userID, &expiresAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("再設定トークンの取得に失敗: %w", err)
	}
	if usedAt != 0 || !now.Before(fromUnix(expiresAt)) {
		return "", ErrResetTokenInvalid
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID); err != nil {
		return "", fmt.Errorf("パスワードの更新に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE password_resets SET used_at = ? WHERE token_hash = ?`, unix(now), tokenHash); err != nil {
		return "", fmt.Errorf("再設定トークンの更新に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("コミットに失敗: %w", err)
	}
	return userID, nil
}

// AppendEvent は監査イベントを追記する。
// Versionは同じAggregate内の最大値+1で採番し、eに書き戻す。
func (s *Store) AppendEvent(ctx context.Context, e *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM audit_events WHERE aggregate_id = ?`, e.AggregateID,
	).Scan(&version); err != nil {
		return fmt.Errorf("バージョンの採番に失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AggregateID, string(e.AggregateType), string(e.EventType), string(e.Data), version, unix(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	e.Version = version
	return nil
}

// ListEvents は新しい順に最大limit件の監査イベントを返す。
func (s *Store) ListEvents(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		FROM audit_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []event.Event{}
	for rows.Next() {
		var (
			e                        event.Event
			aggregateType, eventType string
			data                     string
			createdAt                int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &aggregateType, &eventType, &data, &e.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		e.AggregateType = event.AggregateType(aggregateType)
		e.EventType = event.Type(eventType)
		e.Data = []byte(data)
		e.CreatedAt = fromUnix(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// execOne は1行だけを更新するクエリを実行する。対象がなければErrNotFoundを返す。
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
