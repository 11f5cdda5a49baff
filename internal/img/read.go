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

package img

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path"
	"strings"

	"github.com/snrlab/patchlight/internal/stats"
	"golang.org/x/image/tiff"
)

// Reads an image from the file with the given name. Dispatches on the file
// suffix: TIFF via the x/image codec, PNG and JPEG via the standard codecs.
// Color inputs are collapsed to a single luminance channel.
func NewImageFromFile(fileName string, id int) (f *Image, err error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader := bufio.NewReader(file)

	var decoded image.Image
	ext := strings.ToLower(path.Ext(fileName))
	switch ext {
	case ".tif", ".tiff":
		decoded, err = tiff.Decode(reader)
	case ".png", ".jpg", ".jpeg":
		decoded, _, err = image.Decode(reader)
	default:
		return nil, fmt.Errorf("%s: unsupported image suffix %s", fileName, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s", fileName, err.Error())
	}

	f = newImageFromGoImage(decoded)
	f.ID = id
	f.FileName = fileName
	return f, nil
}

// Converts a decoded golang image into a single-channel float32 image,
// keeping raw 16-bit intensity values. RGB inputs are collapsed to
// luminance with Rec. 709 weights
func newImageFromGoImage(src image.Image) *Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, width*height)

	gray := isGrayModel(src.ColorModel())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			var v float32
			if gray {
				v = float32(r)
			} else {
				v = 0.2126*float32(r) + 0.7152*float32(g) + 0.0722*float32(b)
			}
			data[y*width+x] = v
		}
	}

	f := &Image{
		Naxisn: []int32{int32(width), int32(height)},
		Pixels: int32(width * height),
		Data:   data,
	}
	f.Stats = stats.CalcBasicStats(data)
	return f
}

func isGrayModel(m color.Model) bool {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return true
	default:
		return false
	}
}
