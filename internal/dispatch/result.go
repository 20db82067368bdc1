package dispatch

import "encoding/json"

// Channel は配信経路。
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Status は1件の送信結果。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry は1件の送信の結果。
type Entry struct {
	// Channel は送信した経路。
	Channel Channel
	// Status は成功か失敗か。
	Status Status
	// Token はプッシュの登録トークン。メールでは空。
	Token string
	// Payload はプロバイダの応答。プッシュではFCMのボディ、メールでは {"id": ...}。
	Payload json.RawMessage
	// Err は失敗の理由。成功時はnil。
	Err error
}

// Result は1回の配信の全結果。空は「到達可能な経路が無い」ことを表す。
type Result []Entry

// Count は指定経路の件数を返す。
func (r Result) Count(ch Channel) int {
	n := 0
	for _, e := range r {
		if e.Channel == ch {
			n++
		}
	}
	return n
}

// emailEnvelope はメール結果のレスポンス形式。
type emailEnvelope struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// MarshalJSON はレスポンスの1要素を返す。
// プッシュはFCMの応答をそのまま、応答が無ければ {"error": ...}。
// メールは {"type":"email","result":{...}} か {"type":"email","error":"..."}。
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Channel == ChannelEmail {
		env := emailEnvelope{Type: string(ChannelEmail)}
		if e.Status == StatusSuccess {
			env.Result = e.Payload
		} else {
			env.Error = errorText(e.Err)
		}
		return json.Marshal(env)
	}

	if len(e.Payload) > 0 {
		return e.Payload, nil
	}
	return json.Marshal(map[string]string{"error": errorText(e.Err)})
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
