package intent

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize_Direct(t *testing.T) {
	t.Parallel()

	t.Run("各フィールドがそのまま写されること", func(t *testing.T) {
		t.Parallel()

		raw := `{"user_id":"u-1","title":"Quarterly Report","body":"Q3 is out","data":{"screen":"reports","id":"42"}}`
		in, shape, err := Normalize([]byte(raw))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if shape != ShapeDirect {
			t.Errorf("shape = %q, want %q", shape, ShapeDirect)
		}
		want := Intent{
			UserID: "u-1",
			Title:  "Quarterly Report",
			Body:   "Q3 is out",
			Data:   map[string]string{"screen": "reports", "id": "42"},
		}
		if !reflect.DeepEqual(in, want) {
			t.Errorf("Intent = %+v, want %+v", in, want)
		}
	})

	t.Run("dataが無い場合は空のマップになること", func(t *testing.T) {
		t.Parallel()

		in, _, err := Normalize([]byte(`{"user_id":"u-1","title":"hi","body":"b"}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if in.Data == nil || len(in.Data) != 0 {
			t.Errorf("Data = %#v, want 空のマップ", in.Data)
		}
	})

	t.Run("bodyが無い場合は空文字になること", func(t *testing.T) {
		t.Parallel()

		in, _, err := Normalize([]byte(`{"user_id":"u-1","title":"hi"}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if in.Body != "" {
			t.Errorf("Body = %q, want empty", in.Body)
		}
	})

	t.Run("文字列以外のdata値はJSON表現になりnullは除外されること", func(t *testing.T) {
		t.Parallel()

		raw := `{"user_id":"u","title":"t","data":{"n":3,"ok":true,"obj":{"a":1},"gone":null}}`
		in, _, err := Normalize([]byte(raw))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		want := map[string]string{"n": "3", "ok": "true", "obj": `{"a":1}`}
		if !reflect.DeepEqual(in.Data, want) {
			t.Errorf("Data = %v, want %v", in.Data, want)
		}
	})

	t.Run("recordがnullなら直接呼び出し形式として扱うこと", func(t *testing.T) {
		t.Parallel()

		in, shape, err := Normalize([]byte(`{"record":null,"user_id":"u","title":"t"}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if shape != ShapeDirect || in.UserID != "u" {
			t.Errorf("shape = %q, UserID = %q", shape, in.UserID)
		}
	})
}

func TestNormalize_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("messageがbodyになりエンティティ情報がdataになること", func(t *testing.T) {
		t.Parallel()

		raw := `{"type":"INSERT","table":"notifications","record":{"user_id":"u-9","title":"New Investment Request","message":"Check it","related_entity_id":"inv-1","related_entity_type":"investment"}}`
		in, shape, err := Normalize([]byte(raw))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if shape != ShapeWebhook {
			t.Errorf("shape = %q, want %q", shape, ShapeWebhook)
		}
		want := Intent{
			UserID: "u-9",
			Title:  "New Investment Request",
			Body:   "Check it",
			Data:   map[string]string{"entity_id": "inv-1", "entity_type": "investment"},
		}
		if !reflect.DeepEqual(in, want) {
			t.Errorf("Intent = %+v, want %+v", in, want)
		}
	})

	t.Run("トップレベルのuser_idは無視されること", func(t *testing.T) {
		t.Parallel()

		in, _, err := Normalize([]byte(`{"user_id":"outer","record":{"user_id":"inner","title":"t"}}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if in.UserID != "inner" {
			t.Errorf("UserID = %q, want %q", in.UserID, "inner")
		}
	})

	t.Run("関連エンティティが無い場合はdataのキーを省くこと", func(t *testing.T) {
		t.Parallel()

		in, _, err := Normalize([]byte(`{"record":{"user_id":"u","title":"t","message":"m","related_entity_id":null}}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if len(in.Data) != 0 {
			t.Errorf("Data = %v, want 空", in.Data)
		}
	})

	t.Run("数値のエンティティIDは文字列になること", func(t *testing.T) {
		t.Parallel()

		in, _, err := Normalize([]byte(`{"record":{"user_id":"u","title":"t","related_entity_id":17}}`))
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if in.Data["entity_id"] != "17" {
			t.Errorf("entity_id = %q, want %q", in.Data["entity_id"], "17")
		}
	})
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"recordもuser_idも無い":      `{"title":"t","body":"b"}`,
		"titleが無い":               `{"user_id":"u"}`,
		"titleが空白のみ":            `{"user_id":"u","title":"   "}`,
		"recordのuser_idが無い":      `{"record":{"title":"t"}}`,
		"recordがオブジェクトではない":     `{"record":"oops"}`,
		"JSONではない":               `user_id=u`,
		"配列":                     `[{"user_id":"u","title":"t"}]`,
		"null":                   `null`,
		"user_idが文字列ではない":        `{"user_id":1,"title":"t"}`,
	}
	for name, raw := range cases {
		t.Run(name+"の場合はErrMalformedPayloadになること", func(t *testing.T) {
			t.Parallel()

			_, _, err := Normalize([]byte(raw))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}
