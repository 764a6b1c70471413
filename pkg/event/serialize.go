package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Data:        jsonData,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// NewRoundStatusChanged はラウンド状態変更イベントを生成する。
func NewRoundStatusChanged(c StatusChange) (*Event, error) {
	return New(c.Week, TypeRoundStatusChanged, RoundStatusChangedData{Before: c.Before, After: c.After})
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// StatusChangeOf はRoundStatusChangedイベントをStatusChangeに変換する。
func StatusChangeOf(e *Event) (StatusChange, error) {
	if e.EventType != TypeRoundStatusChanged {
		return StatusChange{}, fmt.Errorf("未対応のイベント種別です: %s", e.EventType)
	}
	if !ValidWeek(e.AggregateID) {
		return StatusChange{}, fmt.Errorf("aggregate_idが週番号の形式ではありません: %q", e.AggregateID)
	}
	data, err := DecodeData[RoundStatusChangedData](e)
	if err != nil {
		return StatusChange{}, err
	}
	return StatusChange{Week: e.AggregateID, Before: data.Before, After: data.After}, nil
}

// weekPattern は週番号として受け付ける形式。通知本文に埋め込まれるため英数字に限る。
var weekPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,16}$`)

// ValidWeek はweekが週番号として妥当かどうかを返す。
func ValidWeek(week string) bool {
	return weekPattern.MatchString(week)
}
