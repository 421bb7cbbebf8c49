package orchestrator

import "testing"

func TestParseTranscript(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{
			name:    "batch output",
			payload: `{"jobName":"call-1","status":"COMPLETED","results":{"transcripts":[{"transcript":" My internet is down. "}]}}`,
			want:    "My internet is down.",
		},
		{
			name:    "segmented results",
			payload: `{"results":[{"alternatives":[{"transcript":"hello"}]},{"alternatives":[]},{"alternatives":[{"transcript":"I need help"}]}]}`,
			want:    "hello I need help",
		},
		{
			name:    "plain transcript",
			payload: `{"transcript":"Thanks for the quick fix"}`,
			want:    "Thanks for the quick fix",
		},
		{
			name:    "results without text",
			payload: `{"results":{"transcripts":[]}}`,
			want:    "",
		},
		{
			name:    "no recognised field",
			payload: `{"status":"COMPLETED"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `<xml/>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTranscript([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
