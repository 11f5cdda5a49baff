// Copyright (C) 2024 The Patchlight Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pairs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snrlab/patchlight/internal/img"
)

// A matched low/high SNR image pair. Input is the noisy acquisition,
// Target the clean ground truth of identical shape.
type Pair struct {
	ID         int    // Sequential ID number, for log output. Counted upwards from 0
	Name       string // base file name shared by input and target
	InputFile  string
	TargetFile string
	Axes       string // axis order of the spatial dimensions, e.g. "YX"

	Input  *img.Image
	Target *img.Image
}

// A source file without a same-named counterpart in the target directory
type MissingPairError struct {
	FileName  string
	TargetDir string
}

func (e *MissingPairError) Error() string {
	return fmt.Sprintf("%s: no matching target file in %s", e.FileName, e.TargetDir)
}

// Paired images whose dimensions differ
type ShapeMismatchError struct {
	Name   string
	Input  []int32
	Target []int32
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: input dimensions %v differ from target dimensions %v",
		e.Name, e.Input, e.Target)
}

var imageSuffixes = map[string]bool{
	".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true,
}

// Scan enumerates image files in each source subdirectory of baseDir and
// matches them by base name against the target subdirectory. Returns pair
// descriptors in deterministic order (source dirs as given, file names
// sorted), without loading any pixel data. Fails with *MissingPairError on
// the first source file lacking a target counterpart.
func Scan(baseDir string, sourceDirs []string, targetDir, axes string) (ps []*Pair, err error) {
	targetPath := filepath.Join(baseDir, targetDir)
	targets, err := listImages(targetPath)
	if err != nil {
		return nil, err
	}
	targetSet := make(map[string]bool, len(targets))
	for _, name := range targets {
		targetSet[name] = true
	}

	id := 0
	for _, srcDir := range sourceDirs {
		srcPath := filepath.Join(baseDir, srcDir)
		names, err := listImages(srcPath)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !targetSet[name] {
				return nil, &MissingPairError{FileName: filepath.Join(srcPath, name), TargetDir: targetPath}
			}
			ps = append(ps, &Pair{
				ID:         id,
				Name:       name,
				InputFile:  filepath.Join(srcPath, name),
				TargetFile: filepath.Join(targetPath, name),
				Axes:       axes,
			})
			id++
		}
	}
	return ps, nil
}

// Returns the sorted base names of all image files in the given directory
func listImages(dir string) (names []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageSuffixes[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads input and target images from disk and validates the pair
// invariants: identical shapes, and an axis string covering the image rank.
func (p *Pair) Load() (err error) {
	if p.Input, err = img.NewImageFromFile(p.InputFile, p.ID); err != nil {
		return err
	}
	if p.Target, err = img.NewImageFromFile(p.TargetFile, p.ID); err != nil {
		return err
	}
	if !img.EqualInt32Slice(p.Input.Naxisn, p.Target.Naxisn) {
		return &ShapeMismatchError{Name: p.Name, Input: p.Input.Naxisn, Target: p.Target.Naxisn}
	}
	if len(p.Axes) != len(p.Input.Naxisn) {
		return fmt.Errorf("%s: axis order %q does not cover %d image dimensions",
			p.Name, p.Axes, len(p.Input.Naxisn))
	}
	return nil
}
