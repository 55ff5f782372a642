// Package parser reads and writes recorded match timelines: one JSON frame
// per line, optionally gzip-compressed.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pable/go-rl-metrics/internal/logger"
	"github.com/pable/go-rl-metrics/internal/model"
)

const maxLine = 8 << 20

var gzipMagic = []byte{0x1f, 0x8b}

type wireTouch struct {
	Player string  `json:"player"`
	T      float64 `json:"t"`
}

// wireBody carries the physics fields shared by the ball and the cars.
type wireBody struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	VZ    float64 `json:"vz"`
	WX    float64 `json:"wx"`
	WY    float64 `json:"wy"`
	WZ    float64 `json:"wz"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
	QX    float64 `json:"qx"`
	QY    float64 `json:"qy"`
	QZ    float64 `json:"qz"`
	QW    float64 `json:"qw"`
}

type wireBall struct {
	wireBody
	LatestTouch *wireTouch `json:"latest_touch,omitempty"`
}

type wirePlayer struct {
	Name string `json:"name"`
	Team int    `json:"team"`
	wireBody
	Boost           float64 `json:"boost"`
	Jumped          bool    `json:"jump"`
	DoubleJumped    bool    `json:"double_jump"`
	IsDemolished    bool    `json:"is_demolished"`
	HasWheelContact *bool   `json:"has_wheel_contact"`
}

type wireScores struct {
	Blue   int `json:"blue"`
	Orange int `json:"orange"`
}

type wireFrame struct {
	Idx            *int         `json:"idx"`
	T              *float64     `json:"t"`
	Ball           wireBall     `json:"ball"`
	Players        []wirePlayer `json:"players"`
	Scores         wireScores   `json:"scores"`
	ClockS         float64      `json:"clock_s"`
	IsOvertime     bool         `json:"is_overtime"`
	IsKickoffPause bool         `json:"is_kickoff_pause"`
}

// wireClock re-reads the timing fields of a line that failed type checks.
type wireClock struct {
	Idx json.RawMessage `json:"idx"`
	T   json.RawMessage `json:"t"`
}

// ParseTimeline decodes the timeline at path. The file's SHA-256 becomes the
// session hash.
func ParseTimeline(path string) (*model.RawSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()

	// Hash file for idempotency key.
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash timeline: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek timeline: %w", err)
	}

	raw, err := Decode(f)
	if err != nil {
		return nil, err
	}
	raw.Hash = fmt.Sprintf("%x", h.Sum(nil))
	raw.Path = path
	return raw, nil
}

// Decode reads frames from r, transparently un-gzipping it. Lines that are
// not valid JSON are skipped and counted. Lines with ill-typed fields are kept
// with those fields at their neutral defaults.
func Decode(r io.Reader) (*model.RawSession, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	log := logger.Named("parser")
	raw := &model.RawSession{Teams: make(map[string]model.Team)}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	prevT := 0.0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var wf wireFrame
		if err := json.Unmarshal(b, &wf); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				raw.SkippedLines++
				log.Warn(context.Background(), "skipping malformed frame", logger.Int("line", line), logger.Error(err))
				continue
			}
			raw.RepairedLines++
			log.Debug(context.Background(), "defaulting ill-typed field", logger.Int("line", line), logger.String("field", typeErr.Field))
			wf.Idx, wf.T = repairClock(b)
		}
		f := toFrame(&wf, len(raw.Frames), prevT)
		prevT = f.T
		for _, p := range f.Players {
			if _, seen := raw.Teams[p.Name]; !seen && p.Name != "" && p.Team.Valid() {
				raw.Teams[p.Name] = p.Team
			}
		}
		raw.Frames = append(raw.Frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return raw, nil
}

// repairClock re-reads idx and t on their own, so an ill-typed value falls
// back to the ordinal/previous-time defaults instead of zero.
func repairClock(b []byte) (*int, *float64) {
	var c wireClock
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, nil
	}
	var (
		idx = new(int)
		t   = new(float64)
	)
	if len(c.Idx) == 0 || json.Unmarshal(c.Idx, idx) != nil {
		idx = nil
	}
	if len(c.T) == 0 || json.Unmarshal(c.T, t) != nil {
		t = nil
	}
	return idx, t
}

// toFrame converts a decoded line, filling neutral defaults for anything the
// recorder left out.
func toFrame(wf *wireFrame, ordinal int, prevT float64) model.Frame {
	f := model.Frame{
		Index:        ordinal,
		Ball:         model.BallState{Pos: wf.Ball.pos(), Vel: wf.Ball.vel(), AngVel: wf.Ball.angVel(), Rot: wf.Ball.rot(), Quat: wf.Ball.quat()},
		Scores:       model.Scoreboard{Blue: wf.Scores.Blue, Orange: wf.Scores.Orange},
		ClockSeconds: wf.ClockS,
		Overtime:     wf.IsOvertime,
		KickoffPause: wf.IsKickoffPause,
	}
	if wf.Idx != nil {
		f.Index = *wf.Idx
	}
	switch {
	case wf.T != nil:
		f.T = *wf.T
	case ordinal > 0:
		f.T = prevT + model.DefaultDT
	}
	if lt := wf.Ball.LatestTouch; lt != nil {
		f.Ball.LatestTouch = &model.Touch{Player: lt.Player, Time: lt.T}
	}
	f.Players = make([]model.PlayerState, 0, len(wf.Players))
	for _, wp := range wf.Players {
		p := model.PlayerState{
			Name:         wp.Name,
			Team:         model.Team(wp.Team),
			Pos:          wp.pos(),
			Vel:          wp.vel(),
			AngVel:       wp.angVel(),
			Rot:          wp.rot(),
			Quat:         wp.quat(),
			Boost:        model.Clamp(wp.Boost, 0, 100),
			Jumped:       wp.Jumped,
			DoubleJumped: wp.DoubleJumped,
			Demolished:   wp.IsDemolished,
		}
		if wp.HasWheelContact != nil {
			p.OnGround = *wp.HasWheelContact
		} else {
			p.OnGround = p.Pos.Z <= model.GroundZMax
		}
		f.Players = append(f.Players, p)
	}
	return f
}

func (w wireBody) pos() model.Vec3    { return model.Vec3{X: w.X, Y: w.Y, Z: w.Z} }
func (w wireBody) vel() model.Vec3    { return model.Vec3{X: w.VX, Y: w.VY, Z: w.VZ} }
func (w wireBody) angVel() model.Vec3 { return model.Vec3{X: w.WX, Y: w.WY, Z: w.WZ} }
func (w wireBody) rot() model.Rotator { return model.Rotator{Pitch: w.Pitch, Yaw: w.Yaw, Roll: w.Roll} }

func (w wireBody) quat() model.Quat {
	q := model.Quat{X: w.QX, Y: w.QY, Z: w.QZ, W: w.QW}
	if q == (model.Quat{}) {
		return model.IdentityQuat
	}
	return q
}

func fromBody(pos, vel, ang model.Vec3, rot model.Rotator, q model.Quat) wireBody {
	return wireBody{
		X: pos.X, Y: pos.Y, Z: pos.Z,
		VX: vel.X, VY: vel.Y, VZ: vel.Z,
		WX: ang.X, WY: ang.Y, WZ: ang.Z,
		Pitch: rot.Pitch, Yaw: rot.Yaw, Roll: rot.Roll,
		QX: q.X, QY: q.Y, QZ: q.Z, QW: q.W,
	}
}

func fromFrame(f *model.Frame) wireFrame {
	idx, t := f.Index, f.T
	wf := wireFrame{
		Idx:            &idx,
		T:              &t,
		Ball:           wireBall{wireBody: fromBody(f.Ball.Pos, f.Ball.Vel, f.Ball.AngVel, f.Ball.Rot, f.Ball.Quat)},
		Players:        make([]wirePlayer, 0, len(f.Players)),
		Scores:         wireScores{Blue: f.Scores.Blue, Orange: f.Scores.Orange},
		ClockS:         f.ClockSeconds,
		IsOvertime:     f.Overtime,
		IsKickoffPause: f.KickoffPause,
	}
	if lt := f.Ball.LatestTouch; lt != nil {
		wf.Ball.LatestTouch = &wireTouch{Player: lt.Player, T: lt.Time}
	}
	for _, p := range f.Players {
		onGround := p.OnGround
		wf.Players = append(wf.Players, wirePlayer{
			Name:            p.Name,
			Team:            int(p.Team),
			wireBody:        fromBody(p.Pos, p.Vel, p.AngVel, p.Rot, p.Quat),
			Boost:           p.Boost,
			Jumped:          p.Jumped,
			DoubleJumped:    p.DoubleJumped,
			IsDemolished:    p.Demolished,
			HasWheelContact: &onGround,
		})
	}
	return wf
}

// Encode writes frames to w as line-delimited JSON, gzip-compressed when
// compress is set.
func Encode(w io.Writer, frames []model.Frame, compress bool) error {
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		w = zw
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range frames {
		if err := enc.Encode(fromFrame(&frames[i])); err != nil {
			return fmt.Errorf("encode frame %d: %w", frames[i].Index, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush timeline: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return nil
}

// WriteTimeline writes frames to path, compressing when it ends in ".gz".
func WriteTimeline(path string, frames []model.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create timeline: %w", err)
	}
	if err := Encode(f, frames, strings.HasSuffix(path, ".gz")); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close timeline: %w", err)
	}
	return nil
}
