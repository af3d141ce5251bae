// Package features queries what an installed ffmpeg provides
package features

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnknownVersion is returned when a -version banner has no release number,
// for example git snapshot builds.
var ErrUnknownVersion = errors.New("unknown version")

type VersionParts struct {
	Program string `json:"program"`
	Full    string `json:"full"`
	Release string `json:"release"`
	Major   uint   `json:"major"`
	Minor   uint   `json:"minor"`
	Patch   uint   `json:"patch"`
}

// String returns major.minor.patch
func (v VersionParts) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func reMatchNamedGroups(re *regexp.Regexp, s string) map[string]string {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil
	}

	result := map[string]string{}
	for i, name := range re.SubexpNames() {
		if i != 0 {
			result[name] = match[i]
		}
	}

	return result
}

type helpMatch struct {
	skipStartLinesCount int
	headerEndSuffix     string
	lineRe              *regexp.Regexp
}

func reMatchNamedGroupsLines(r io.Reader, hm helpMatch) ([]map[string]string, error) {
	lineScanner := bufio.NewScanner(r)

	for i := 0; i < hm.skipStartLinesCount; i++ {
		if line := lineScanner.Scan(); !line {
			return nil, errors.New("no start line to skip")
		}
	}

	for lineScanner.Scan() {
		if strings.HasSuffix(lineScanner.Text(), hm.headerEndSuffix) {
			break
		}
	}

	matches := []map[string]string{}
	for lineScanner.Scan() {
		line := lineScanner.Text()
		if line == "" {
			break
		}

		m := reMatchNamedGroups(hm.lineRe, line)
		if m == nil {
			return nil, errors.New("failed to parse line: '" + line + "'")
		}

		matches = append(matches, m)
	}

	return matches, lineScanner.Err()
}

func reMatchNamedGroupsCommandOutput(cmd *exec.Cmd, hm helpMatch) ([]map[string]string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if startErr := cmd.Start(); startErr != nil {
		return nil, startErr
	}

	matches, matchErr := reMatchNamedGroupsLines(stdout, hm)
	if matchErr != nil {
		// drain so wait does not block on a full pipe
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if matchErr != nil {
		return nil, matchErr
	}
	if waitErr != nil {
		return nil, waitErr
	}

	return matches, nil
}

/*
ffmpeg version n4.0 Copyright (c) 2000-2018 the FFmpeg developers
ffmpeg version 4.4.2-0ubuntu0.22.04.1 Copyright (c) 2000-2021 the FFmpeg developers
ffprobe version 6.1.1-static https://johnvansickle.com/ffmpeg/  Copyright (c) 2007-2023 the FFmpeg developers
*/
var versionLineRe = regexp.MustCompile(`` +
	`^` +
	`(?P<program>\S+) version ` +
	`(?P<release>` +
	`\D*(?P<major>\d+)` +
	`\.(?P<minor>\d+)` +
	`(?:\.(?P<patch>\d+))?` +
	`\S*` +
	`)` +
	`\s.*$` +
	``)

// ParseVersion parses the first line of a ffmpeg/ffprobe -version output
func ParseVersion(full string) (VersionParts, error) {
	firstLine := strings.SplitN(full, "\n", 2)[0]
	versionMatch := reMatchNamedGroups(versionLineRe, strings.TrimRight(firstLine, "\r"))
	if versionMatch == nil {
		return VersionParts{}, fmt.Errorf("%w: %q", ErrUnknownVersion, firstLine)
	}

	major, _ := strconv.Atoi(versionMatch["major"])
	minor, _ := strconv.Atoi(versionMatch["minor"])
	patch := 0
	if versionMatch["patch"] != "" {
		patch, _ = strconv.Atoi(versionMatch["patch"])
	}

	return VersionParts{
		Program: versionMatch["program"],
		Full:    full,
		Release: versionMatch["release"],
		Major:   uint(major),
		Minor:   uint(minor),
		Patch:   uint(patch),
	}, nil
}

// ProgramVersion runs "<path> -version" and parses the banner. Works for
// ffmpeg and ffprobe.
func ProgramVersion(ctx context.Context, path string) (VersionParts, error) {
	cmd := exec.CommandContext(ctx, path, "-version")
	versionBytes, cmdErr := cmd.Output()
	if cmdErr != nil {
		return VersionParts{}, cmdErr
	}

	return ParseVersion(string(versionBytes))
}

/*
Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D gif                  GIF (Graphics Interchange Format)
*/
var codersLineRe = regexp.MustCompile(`` +
	`^` +
	`\s*` +
	`(?P<codectype>.)` +
	`(?P<framelevel>.)` +
	`(?P<slicelevel>.)` +
	`(?P<experimental>.)` +
	`(?P<drawhorizband>.)` +
	`(?P<directrenderingmethod1>.)` +
	`\s+` +
	`(?P<codername>\S+)` +
	`\s*` +
	`(?P<description>.*?)` + // non-greedy to allow optional match below
	`\s*` +
	`(?:\(codec (?P<codec>.*?)\))?` +
	`\s*` +
	`$` +
	``)

/*
Filters:
  T.. = Timeline support
  .S. = Slice threading
  ..C = Command support
  A = Audio input/output
  V = Video input/output
  N = Dynamic number and/or type of input/output
  | = Source or sink filter
 ... palettegen        V->V       Find the optimal palette for a given stream.
*/
var filtersLineRe = regexp.MustCompile(`` +
	`^` +
	`\s*` +
	`(?P<timelinesupport>.)` +
	`(?P<slicethreading>.)` +
	`(?P<commandsupport>.)` +
	`\s+` +
	`(?P<filtername>\S+)` +
	`\s*` +
	`(?P<input>\S+)` +
	`->` +
	`(?P<output>\S+)` +
	`\s*` +
	`(?P<description>.*)` +
	`\s*` +
	`$` +
	``)

var encodersHelpMatch = helpMatch{
	headerEndSuffix: "-----",
	lineRe:          codersLineRe,
}

var filtersHelpMatch = helpMatch{
	skipStartLinesCount: 1,
	headerEndSuffix:     "Source or sink filter",
	lineRe:              filtersLineRe,
}

func names(matches []map[string]string, group string) []string {
	ns := make([]string, 0, len(matches))
	for _, m := range matches {
		ns = append(ns, m[group])
	}
	return ns
}

// ParseEncoderNames parses "ffmpeg -hide_banner -encoders" output
func ParseEncoderNames(r io.Reader) ([]string, error) {
	matches, err := reMatchNamedGroupsLines(r, encodersHelpMatch)
	if err != nil {
		return nil, err
	}
	return names(matches, "codername"), nil
}

// ParseFilterNames parses "ffmpeg -hide_banner -filters" output
func ParseFilterNames(r io.Reader) ([]string, error) {
	matches, err := reMatchNamedGroupsLines(r, filtersHelpMatch)
	if err != nil {
		return nil, err
	}
	return names(matches, "filtername"), nil
}

// EncoderNames lists encoder names known by ffmpeg
func EncoderNames(ctx context.Context, ffmpegPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	matches, err := reMatchNamedGroupsCommandOutput(cmd, encodersHelpMatch)
	if err != nil {
		return nil, err
	}
	return names(matches, "codername"), nil
}

// FilterNames lists filter names known by ffmpeg
func FilterNames(ctx context.Context, ffmpegPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-filters")
	matches, err := reMatchNamedGroupsCommandOutput(cmd, filtersHelpMatch)
	if err != nil {
		return nil, err
	}
	return names(matches, "filtername"), nil
}
