// Package intent は受信した通知イベントを配信用の共通モデルに正規化する。
//
// 直接呼び出し形式と、データベースWebhookが record でラップした形式の2種類を受け付ける。
// どちらの形式から来たかは配信処理に持ち込まない。
package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload は受信ペイロードから通知を組み立てられないことを表す。
var ErrMalformedPayload = errors.New("通知ペイロードの形式が不正です")

// Shape は受信ペイロードの形式。
type Shape string

const (
	// ShapeDirect は {user_id, title, body, data} 形式。
	ShapeDirect Shape = "direct"
	// ShapeWebhook は {record: {...}} 形式。
	ShapeWebhook Shape = "webhook"
)

// Intent は1回の配信で送る通知。生成後は変更しない。
type Intent struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Title は通知のタイトル。空にはならない。
	Title string
	// Body は通知の本文。
	Body string
	// Data はプッシュ通知に添えるキーと値。nilにはならない。
	Data map[string]string
}

// directPayload は直接呼び出し形式のボディ。
type directPayload struct {
	UserID *string                    `json:"user_id"`
	Title  *string                    `json:"title"`
	Body   *string                    `json:"body"`
	Data   map[string]json.RawMessage `json:"data"`
}

// webhookRecord はWebhook形式のrecordフィールド。
type webhookRecord struct {
	UserID            *string         `json:"user_id"`
	Title             *string         `json:"title"`
	Message           *string         `json:"message"`
	RelatedEntityID   json.RawMessage `json:"related_entity_id"`
	RelatedEntityType json.RawMessage `json:"related_entity_type"`
}

// Normalize は受信したJSONをIntentに変換し、判定した形式を合わせて返す。
// recordがnullでないオブジェクトならWebhook形式、それ以外は直接呼び出し形式として扱う。
// user_idかtitleが空の場合はErrMalformedPayloadを返す。
func Normalize(raw []byte) (Intent, Shape, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Intent{}, "", fmt.Errorf("%w: JSONオブジェクトではありません: %v", ErrMalformedPayload, err)
	}
	if envelope == nil {
		return Intent{}, "", fmt.Errorf("%w: ボディがnullです", ErrMalformedPayload)
	}

	if record, ok := envelope["record"]; ok && !isNull(record) {
		in, err := fromWebhook(record)
		return in, ShapeWebhook, err
	}
	in, err := fromDirect(raw)
	return in, ShapeDirect, err
}

func fromWebhook(raw json.RawMessage) (Intent, error) {
	var rec webhookRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Intent{}, fmt.Errorf("%w: recordがオブジェクトではありません: %v", ErrMalformedPayload, err)
	}

	data := make(map[string]string, 2)
	if v, ok := stringify(rec.RelatedEntityID); ok {
		data["entity_id"] = v
	}
	if v, ok := stringify(rec.RelatedEntityType); ok {
		data["entity_type"] = v
	}

	return build(deref(rec.UserID), deref(rec.Title), deref(rec.Message), data)
}

func fromDirect(raw []byte) (Intent, error) {
	var p directPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		if s, ok := stringify(v); ok {
			data[k] = s
		}
	}

	return build(deref(p.UserID), deref(p.Title), deref(p.Body), data)
}

// build は必須項目を検証してIntentを組み立てる。
func build(userID, title, body string, data map[string]string) (Intent, error) {
	var missing []string
	if strings.TrimSpace(userID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return Intent{}, fmt.Errorf("%w: 必須項目がありません: %s", ErrMalformedPayload, strings.Join(missing, ", "))
	}
	return Intent{UserID: userID, Title: title, Body: body, Data: data}, nil
}

// stringify はJSON値をFCMのdataに載せる文字列に変換する。
// 文字列はそのまま、それ以外はJSON表現を使う。nullと欠落はfalseを返す。
func stringify(v json.RawMessage) (string, bool) {
	if len(v) == 0 || isNull(v) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	return string(bytes.TrimSpace(v)), true
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
