package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// NoSpeaker marks a segment without diarization.
const NoSpeaker = -1

// Segment is one piece of recognized speech.
type Segment struct {
	Text       string
	Final      bool
	Start      time.Duration
	Duration   time.Duration
	Confidence float64
	Speaker    int
}

// End is the offset where the segment stops.
func (s Segment) End() time.Duration {
	return s.Start + s.Duration
}

func (s Segment) String() string {
	if s.Speaker == NoSpeaker {
		return s.Text
	}
	return fmt.Sprintf("Speaker %d: %s", s.Speaker, s.Text)
}

type result struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Speaker *int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult extracts the transcript carried by a server message. Other
// message types and empty transcripts report false.
func parseResult(data []byte) (Segment, bool, error) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return Segment{}, false, fmt.Errorf("failed to decode result: %w", err)
	}
	if r.Type != "" && r.Type != "Results" {
		return Segment{}, false, nil
	}
	if len(r.Channel.Alternatives) == 0 {
		return Segment{}, false, nil
	}
	alt := r.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Segment{}, false, nil
	}

	seg := Segment{
		Text:       alt.Transcript,
		Final:      r.IsFinal,
		Start:      seconds(r.Start),
		Duration:   seconds(r.Duration),
		Confidence: alt.Confidence,
		Speaker:    NoSpeaker,
	}
	for _, w := range alt.Words {
		if w.Speaker != nil {
			seg.Speaker = *w.Speaker
			break
		}
	}
	return seg, true, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
