// Package event はポータルの監査ログに記録するイベントを定義する。
//
// イベントは不変であり、追記のみで運用する。認証やロール変更など
// セキュリティ上重要な操作はすべてイベントとして永続化される。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeRole はロールエンティティを表す。
	AggregateTypeRole AggregateType = "Role"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUserSignedUp はアカウントが登録されたことを表す。
	TypeUserSignedUp Type = "UserSignedUp"
	// TypeUserSignedIn はサインインが完了したことを表す。
	TypeUserSignedIn Type = "UserSignedIn"
	// TypeOTPChallengeIssued はワンタイムパスワードが発行されたことを表す。
	TypeOTPChallengeIssued Type = "OTPChallengeIssued"
	// TypeOTPVerified はワンタイムパスワードの検証に成功したことを表す。
	TypeOTPVerified Type = "OTPVerified"
	// TypeOTPFailed はワンタイムパスワードの検証に失敗したことを表す。
	TypeOTPFailed Type = "OTPFailed"
	// TypeUserSignedOut はサインアウトしたことを表す。
	TypeUserSignedOut Type = "UserSignedOut"
	// TypePasswordResetRequested はパスワード再設定が申請されたことを表す。
	TypePasswordResetRequested Type = "PasswordResetRequested"
	// TypePasswordReset はパスワードが再設定されたことを表す。
	TypePasswordReset Type = "PasswordReset"
	// TypeRoleAssigned はユーザーのロールが変更されたことを表す。
	TypeRoleAssigned Type = "RoleAssigned"
)

// Event は監査ログの不変なイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。永続化時に採番される。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SignInData はUserSignedInイベントのデータ。
type SignInData struct {
	// Email はサインインしたユーザーのメールアドレス。
	Email string `json:"email"`
	// ClientIP はリクエスト元のIPアドレス。
	ClientIP string `json:"client_ip"`
	// WithOTP はOTP検証を経たかどうか。
	WithOTP bool `json:"with_otp"`
}

// OTPChallengeData はOTPChallengeIssued/OTPVerified/OTPFailedイベントのデータ。
type OTPChallengeData struct {
	// ChallengeID はOTPチャレンジの識別子。
	ChallengeID string `json:"challenge_id"`
	// Attempts はこれまでの検証試行回数。
	Attempts int `json:"attempts,omitempty"`
	// Reason は失敗の理由。
	Reason string `json:"reason,omitempty"`
}

// SignUpData はUserSignedUpイベントのデータ。
type SignUpData struct {
	// Email は登録されたメールアドレス。
	Email string `json:"email"`
	// Role は初期ロール。
	Role string `json:"role"`
}

// PasswordResetData はPasswordResetRequested/PasswordResetイベントのデータ。
type PasswordResetData struct {
	// Email は対象ユーザーのメールアドレス。
	Email string `json:"email"`
}

// RoleAssignedData はRoleAssignedイベントのデータ。
type RoleAssignedData struct {
	// PreviousRole は変更前のロール。
	PreviousRole string `json:"previous_role"`
	// Role は変更後のロール。
	Role string `json:"role"`
	// AssignedBy は変更を行ったユーザーのID。
	AssignedBy string `json:"assigned_by"`
}
