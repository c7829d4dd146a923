package mirror

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/simsync/internal/domain"
)

func userIDs(recs []domain.AccountRecord) []domain.UserID {
	ids := make([]domain.UserID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.UserID)
	}
	return ids
}

func TestNormalizeToRecordList(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    []domain.UserID
		wantErr bool
	}{
		{name: "nil", raw: nil, want: []domain.UserID{}},
		{name: "json null", raw: []byte("null"), want: []domain.UserID{}},
		{name: "empty string", raw: "", want: []domain.UserID{}},
		{
			name: "array keeps order and drops nulls",
			raw:  json.RawMessage(`[{"user_id":"b"},null,{"user_id":7}]`),
			want: []domain.UserID{"b", "7"},
		},
		{
			name: "object keyed by user id",
			raw:  `{"z":{"user_id":"z"},"a":{"user_id":"a"},"m":null}`,
			want: []domain.UserID{"a", "z"},
		},
		{
			name: "redis hash",
			raw: map[string]string{
				"2": `{"user_id":"2","msisdn":"0900000002"}`,
				"1": `{"user_id":"1","msisdn":"0900000001"}`,
			},
			want: []domain.UserID{"1", "2"},
		},
		{
			name: "decoded generic array",
			raw:  []any{map[string]any{"user_id": "x"}, nil},
			want: []domain.UserID{"x"},
		},
		{
			name: "typed list",
			raw:  []domain.AccountRecord{{UserID: "q"}, {UserID: "p"}},
			want: []domain.UserID{"q", "p"},
		},
		{name: "scalar json", raw: []byte(`42`), wantErr: true},
		{name: "unsupported type", raw: 42, wantErr: true},
		{name: "malformed entry", raw: map[string]string{"1": `{not json`}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeToRecordList(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, userIDs(got))
		})
	}
}

func TestNormalize_UnsupportedShapeIsTyped(t *testing.T) {
	_, err := NormalizeToRecordList(3.14)
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}
