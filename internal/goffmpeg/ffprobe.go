package goffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wader/ffgif/internal/goffmpeg/internal/execextra"
	"github.com/wader/ffgif/internal/goffmpeg/internal/iobuf"
	"github.com/wader/ffgif/internal/goffmpeg/internal/kvargs"
)

// FFprobePath to ffprobe binary. Will be used as name to cmd.Command.
var FFprobePath = "ffprobe"

// FFProbeResult ffprobe result
type FFProbeResult struct {
	Format  FFProbeFormat          `json:"format"`
	Streams []FFProbeStream        `json:"streams"`
	Raw     map[string]interface{} `json:"raw"`
}

const (
	SideDataDisplayMatrix = "Display Matrix"
)

// SideData is a union of all side data types used
// if value if not mapped use FFProbeResult.Raw
type SideData struct {
	SideDataType  string `json:"side_data_type"`
	DisplayMatrix string `json:"displaymatrix"`
	Rotation      int    `json:"rotation"` // counter clockwise rotation
}

// FFProbeStream ffprobe stream result
type FFProbeStream struct {
	Index              uint              `json:"index"`
	CodecName          string            `json:"codec_name"`
	CodecLongName      string            `json:"codec_long_name"`
	CodecType          string            `json:"codec_type"`
	RFrameRate         string            `json:"r_frame_rate"`
	AvgFrameRate       string            `json:"avg_frame_rate"`
	TimeBase           string            `json:"time_base"`
	StartTime          string            `json:"start_time"`
	Duration           string            `json:"duration"`
	BitRate            string            `json:"bit_rate"`
	NbFrames           string            `json:"nb_frames"`
	Width              uint              `json:"width"`
	Height             uint              `json:"height"`
	SampleAspectRatio  string            `json:"sample_aspect_ratio"`
	DisplayAspectRatio string            `json:"display_aspect_ratio"`
	PixFmt             string            `json:"pix_fmt"`
	Tags               map[string]string `json:"tags"`
	SideDataList       []SideData        `json:"side_data_list"`
}

func (fps FFProbeStream) Rotation() int {
	for _, s := range fps.SideDataList {
		if s.SideDataType == SideDataDisplayMatrix {
			return s.Rotation
		}
	}
	return 0
}

func (fps FFProbeStream) DisplayWidth() uint {
	switch fps.Rotation() {
	case -90, 90, -270, 270:
		return fps.Height
	}
	return fps.Width
}

func (fps FFProbeStream) DisplayHeight() uint {
	switch fps.Rotation() {
	case -90, 90, -270, 270:
		return fps.Width
	}
	return fps.Height
}

// ParseRational parses ffprobe rationals like "30000/1001" or "25".
// Returns 0 for "0/0" and other unusable values.
func ParseRational(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	n, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return n
	}
	d, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FrameRate average frame rate, falls back to real base frame rate
func (fps FFProbeStream) FrameRate() float64 {
	if r := ParseRational(fps.AvgFrameRate); r > 0 {
		return r
	}
	return ParseRational(fps.RFrameRate)
}

// FFProbeFormat ffprobe format result
type FFProbeFormat struct {
	Filename       string            `json:"filename"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     uint              `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// UnmarshalJSON unmarshal from ffprobe JSON output
func (fpr *FFProbeResult) UnmarshalJSON(text []byte) error {
	type probeInfo FFProbeResult
	var piDummy probeInfo
	err := json.Unmarshal(text, &piDummy)
	// unmarshal a second time in raw form
	json.Unmarshal(text, &piDummy.Raw)
	*fpr = FFProbeResult(piDummy)
	return err
}

// FindFirstStreamCodecType find first stream with codec type
func (fpr FFProbeResult) FindFirstStreamCodecType(codecType string) (FFProbeStream, bool) {
	for _, s := range fpr.Streams {
		if s.CodecType == codecType {
			return s, true
		}
	}
	return FFProbeStream{}, false
}

// FormatName probed format (first value if comma separated)
func (fpr FFProbeResult) FormatName() string {
	return strings.Split(fpr.Format.FormatName, ",")[0]
}

func parseSeconds(s string) time.Duration {
	v, _ := strconv.ParseFloat(s, 64)
	return time.Duration(v * float64(time.Second))
}

// Duration probed duration
func (fpr FFProbeResult) Duration() time.Duration {
	return parseSeconds(fpr.Format.Duration)
}

// StreamDuration probed stream duration
func (fps FFProbeStream) StreamDuration() time.Duration {
	return parseSeconds(fps.Duration)
}

func (fpr FFProbeResult) String() string {
	var codecs []string
	for _, s := range fpr.Streams {
		codecs = append(codecs, s.CodecName)
	}
	return fmt.Sprintf("%s:%s", fpr.FormatName(), strings.Join(codecs, ":"))
}

// FFProbeCmd is a ffprobe command
type FFProbeCmd struct {
	Flags []string
	Input Input

	ProbeResult FFProbeResult `json:"-"`

	Context             context.Context `json:"-"`
	StderrBufferNrLines int             `json:"-"`
	Stderr              io.Writer       `json:"-"`
	DebugLog            Printer         `json:"-"`

	cmd             *execextra.Cmd
	waitCh          chan error
	stderrLastLines *iobuf.LastLines
}

// Start ffprobe cmd
func (fp *FFProbeCmd) Start() error {
	if fp.Context != nil {
		fp.cmd = execextra.CommandContext(fp.Context, FFprobePath)
	} else {
		fp.cmd = execextra.Command(FFprobePath)
	}
	fp.cmd.Args = append(fp.cmd.Args,
		"-hide_banner",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	)
	fp.cmd.Args = append(fp.cmd.Args, fp.Flags...)
	fp.cmd.Args = append(fp.cmd.Args, kvargs.MapToSortedArgs(fp.Input.Options, kvargs.OptionArg(""))...)
	fp.cmd.Args = append(fp.cmd.Args, fp.Input.Flags...)
	if fp.Input.Format != "" {
		fp.cmd.Args = append(fp.cmd.Args, "-f", fp.Input.Format)
	}
	fp.cmd.Args = append(fp.cmd.Args, fp.Input.File)

	var stderrws []io.Writer
	nrLines := fp.StderrBufferNrLines
	if nrLines == 0 {
		nrLines = 100
	}
	fp.stderrLastLines = iobuf.NewLastLines(nrLines)
	stderrws = append(stderrws, fp.stderrLastLines)
	if fp.Stderr != nil {
		stderrws = append(stderrws, fp.Stderr)
	}
	fp.cmd.Stderr = io.MultiWriter(stderrws...)

	if fp.DebugLog != nil {
		fp.DebugLog.Printf("%s", strings.Join(fp.cmd.Args, " "))
	}

	stdout, err := fp.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := fp.cmd.Start(); err != nil {
		return err
	}

	fp.waitCh = make(chan error, 1)
	go func() {
		jsonErr := json.NewDecoder(stdout).Decode(&fp.ProbeResult)
		if jsonErr != nil {
			io.Copy(io.Discard, stdout)
		}
		waitErr := fp.cmd.Wait()
		fp.stderrLastLines.Close()

		if waitErr != nil {
			fp.waitCh <- waitErr
			return
		}
		fp.waitCh <- jsonErr
	}()

	return nil
}

// Wait for ffprobe cmd to finish
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Wait() error {
	err := <-fp.waitCh
	if err != nil {
		return fmt.Errorf("%w: %s", err, fp.stderrLastLines.String())
	}

	return nil
}

// Run starts and waits for ffprobe to finish
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Run() error {
	if err := fp.Start(); err != nil {
		return err
	}
	return fp.Wait()
}

// Result start and wait for ffprobe to finish and return info
// Note that the error message might include command details that are sensitive
func (fp *FFProbeCmd) Result() (FFProbeResult, error) {
	if err := fp.Run(); err != nil {
		return FFProbeResult{}, err
	}
	return fp.ProbeResult, nil
}
