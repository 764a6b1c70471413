// Package event はラウンド状態の変更イベントと、その状態遷移の判定を提供する。
package event

import (
	"encoding/json"
	"time"
)

// Status はラウンドのスコア入力状態を表す。
type Status string

const (
	// StatusOpen はスコア入力を受け付けている状態。
	StatusOpen Status = "open"
	// StatusClosed はスコア入力が締め切られた状態。
	StatusClosed Status = "closed"
)

// Type はイベントの種類を表す。
type Type string

// TypeRoundStatusChanged はラウンドの状態が変更されたことを表す。
const TypeRoundStatusChanged Type = "RoundStatusChanged"

// Event は外部ストアから通知される変更イベントの封筒。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。ラウンドの場合は週番号。
	AggregateID string `json:"aggregate_id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// RoundStatusChangedData はRoundStatusChangedイベントのデータ。
type RoundStatusChangedData struct {
	// Before は変更前の状態。未設定の場合は空文字。
	Before Status `json:"before"`
	// After は変更後の状態。削除された場合は空文字。
	After Status `json:"after"`
}

// StatusChange は週ごとの状態変更を表す。
type StatusChange struct {
	// Week は週番号。
	Week string
	// Before は変更前の状態。
	Before Status
	// After は変更後の状態。
	After Status
}

// Transition は通知の対象となる状態遷移の種類。
type Transition int

const (
	// TransitionNone は通知不要な遷移。
	TransitionNone Transition = iota
	// TransitionOpened は未オープンからオープンへの遷移。
	TransitionOpened
	// TransitionClosed はオープンからクローズへの遷移。
	TransitionClosed
)

// Transition は状態変更が通知対象の遷移かどうかを判定する。
// 未定義の値（空文字を含む）は未オープンとして扱う。
func (c StatusChange) Transition() Transition {
	switch {
	case c.Before != StatusOpen && c.After == StatusOpen:
		return TransitionOpened
	case c.Before == StatusOpen && c.After == StatusClosed:
		return TransitionClosed
	default:
		return TransitionNone
	}
}
