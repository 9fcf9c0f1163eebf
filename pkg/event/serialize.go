package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownType は監査ログに定義されていないイベント種別を示す。
	ErrUnknownType = errors.New("未定義のイベント種別です")
	// ErrAggregateMismatch はイベント種別と対象エンティティの組み合わせが誤っていることを示す。
	ErrAggregateMismatch = errors.New("イベント種別と対象エンティティが一致しません")
	// ErrDataMismatch はイベント種別に対応しないデータが渡されたことを示す。
	ErrDataMismatch = errors.New("イベント種別とデータの型が一致しません")
)

// targets はイベント種別ごとの対象エンティティ。
// ロール変更は変更されたユーザーの履歴として記録する。
var targets = map[Type]AggregateType{
	TypeUserSignedUp:           AggregateTypeUser,
	TypeUserSignedIn:           AggregateTypeUser,
	TypeOTPChallengeIssued:     AggregateTypeUser,
	TypeOTPVerified:            AggregateTypeUser,
	TypeOTPFailed:              AggregateTypeUser,
	TypeUserSignedOut:          AggregateTypeUser,
	TypePasswordResetRequested: AggregateTypeUser,
	TypePasswordReset:          AggregateTypeUser,
	TypeRoleAssigned:           AggregateTypeUser,
}

// Valid は既知のイベント種別かどうかを返す。
func (t Type) Valid() bool {
	_, ok := targets[t]
	return ok
}

// Aggregate はイベント種別の対象エンティティを返す。未定義の種別では空文字列。
func (t Type) Aggregate() AggregateType {
	return targets[t]
}

// Valid は既知のエンティティ種別かどうかを返す。
func (a AggregateType) Valid() bool {
	return a == AggregateTypeUser || a == AggregateTypeRole
}

// acceptsData はイベント種別に対応するデータ型かどうかを返す。
func acceptsData(t Type, data any) bool {
	switch t {
	case TypeUserSignedUp:
		_, ok := data.(SignUpData)
		return ok
	case TypeUserSignedIn:
		_, ok := data.(SignInData)
		return ok
	case TypeOTPChallengeIssued, TypeOTPVerified, TypeOTPFailed:
		_, ok := data.(OTPChallengeData)
		return ok
	case TypePasswordResetRequested, TypePasswordReset:
		_, ok := data.(PasswordResetData)
		return ok
	case TypeRoleAssigned:
		_, ok := data.(RoleAssignedData)
		return ok
	case TypeUserSignedOut:
		_, ok := data.(struct{})
		return ok
	}
	return false
}

// New は監査イベントを生成する。
// 種別、対象エンティティ、データ型の組み合わせが定義と一致しなければエラーを返す。
// 作成日時は保存時の精度に合わせて秒単位に丸める。Versionは永続化時に採番される。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("AggregateIDが空です: event_type=%s", eventType)
	}
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	if eventType.Aggregate() != aggregateType {
		return nil, fmt.Errorf("%w: event_type=%s aggregate_type=%s", ErrAggregateMismatch, eventType, aggregateType)
	}
	if !acceptsData(eventType, data) {
		return nil, fmt.Errorf("%w: event_type=%s data=%T", ErrDataMismatch, eventType, data)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          payload,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}, nil
}

// DecodeData はイベントのデータを型Tとして取り出す。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗 (event_type=%s): %w", e.EventType, err)
	}
	return &data, nil
}
