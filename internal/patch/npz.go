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

package patch

import (
	"archive/zip"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Archive serialization of a patch set, as a zip of NumPy .npy members:
// X.npy (inputs), Y.npy (targets), axes.npy (axis label string). Members
// are stored uncompressed; arrays are little-endian float32 in C order.
// The format round-trips bit for bit and loads as a unit in NumPy via
// numpy.load.

// An output write failure
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: error writing patch set: %s", e.Path, e.Err.Error())
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Writes the set to the given path. Overwrites any existing file at that
// path without warning
func (s *Set) WriteFile(fileName string) error {
	file, err:=os.Create(fileName)
	if err!=nil { return &SerializationError{Path: fileName, Err: err} }

	err=s.Write(file)
	if cerr:=file.Close(); err==nil { err=cerr }
	if err!=nil { return &SerializationError{Path: fileName, Err: err} }
	return nil
}

// Writes the set as an NPZ archive to an io.Writer
func (s *Set) Write(w io.Writer) error {
	zw:=zip.NewWriter(w)
	if err:=writeNpyFloat32(zw, "X.npy", s.Inputs, s.Shape); err!=nil { return err }
	if err:=writeNpyFloat32(zw, "Y.npy", s.Targets, s.Shape); err!=nil { return err }
	if err:=writeNpyBytes(zw, "axes.npy", []byte(s.Axes)); err!=nil { return err }
	return zw.Close()
}

const npyMagic = "\x93NUMPY"

// Writes one float32 array as a zip member in npy format 1.0
func writeNpyFloat32(zw *zip.Writer, name string, data []float32, shape []int32) error {
	w, err:=zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err!=nil { return err }

	dims:=make([]string, len(shape))
	for i,n:=range shape { dims[i]=strconv.Itoa(int(n)) }
	tuple:="("+strings.Join(dims, ", ")+")"
	if len(dims)==1 { tuple="("+dims[0]+",)" }

	header:=fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", tuple)
	if err:=writeNpyHeader(w, header); err!=nil { return err }

	return writeFloat32ArrayLE(w, data)
}

// Writes a raw byte string as a zero-dimensional npy member, descr |S<n>
func writeNpyBytes(zw *zip.Writer, name string, data []byte) error {
	w, err:=zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err!=nil { return err }

	header:=fmt.Sprintf("{'descr': '|S%d', 'fortran_order': False, 'shape': (), }", len(data))
	if err:=writeNpyHeader(w, header); err!=nil { return err }

	_, err=w.Write(data)
	return err
}

// Writes npy magic, version 1.0 and the space-padded header dict. Total
// preamble length is padded to a multiple of 64, terminated with a newline
func writeNpyHeader(w io.Writer, header string) error {
	unpadded:=len(npyMagic)+2+2+len(header)+1
	padding :=(64-unpadded%64)%64
	header  =header+strings.Repeat(" ", padding)+"\n"

	buf:=make([]byte, 0, len(npyMagic)+4+len(header))
	buf=append(buf, npyMagic...)
	buf=append(buf, 1, 0) // version 1.0
	buf=append(buf, byte(len(header)), byte(len(header)>>8))
	buf=append(buf, header...)
	_, err:=w.Write(buf)
	return err
}

const npyBufLen = 64*1024

// Writes array data in little-endian byte order, in buffered blocks
func writeFloat32ArrayLE(w io.Writer, data []float32) error {
	buf:=make([]byte, npyBufLen)

	for block:=0; block<len(data); block+=(npyBufLen>>2) {
		size:=len(data)-block
		if size>(npyBufLen>>2) { size=(npyBufLen>>2) }

		for offset:=0; offset<size; offset++ {
			val:=math.Float32bits(data[block+offset])
			buf[(offset<<2)+0]=byte(val    )
			buf[(offset<<2)+1]=byte(val>> 8)
			buf[(offset<<2)+2]=byte(val>>16)
			buf[(offset<<2)+3]=byte(val>>24)
		}
		_, err:=w.Write(buf[:(size<<2)])
		if err!=nil { return err }
	}
	return nil
}

var npyHeaderRE=regexp.MustCompile(
	`'descr':\s*'([^']+)',\s*'fortran_order':\s*(True|False),\s*'shape':\s*\(([0-9, ]*)\)`)

// Reads a patch set back from an NPZ archive written by WriteFile
func ReadSetFile(fileName string) (s *Set, err error) {
	zr, err:=zip.OpenReader(fileName)
	if err!=nil { return nil, err }
	defer zr.Close()

	s=&Set{}
	for _,member:=range zr.File {
		r, err:=member.Open()
		if err!=nil { return nil, err }
		descr, shape, data, err:=readNpy(r)
		r.Close()
		if err!=nil { return nil, fmt.Errorf("%s: member %s: %s", fileName, member.Name, err.Error()) }

		switch member.Name {
		case "X.npy":
			if s.Inputs, err=toFloat32ArrayLE(descr, data); err!=nil { return nil, err }
			s.Shape=shape
		case "Y.npy":
			if s.Targets, err=toFloat32ArrayLE(descr, data); err!=nil { return nil, err }
		case "axes.npy":
			s.Axes=string(data)
		default:
			return nil, fmt.Errorf("%s: unexpected archive member %s", fileName, member.Name)
		}
	}
	if s.Inputs==nil || s.Targets==nil || s.Axes=="" {
		return nil, fmt.Errorf("%s: incomplete patch set archive", fileName)
	}
	if len(s.Inputs)!=len(s.Targets) {
		return nil, fmt.Errorf("%s: inputs and targets differ in length", fileName)
	}
	return s, nil
}

// Parses one npy member: preamble, header dict, raw data
func readNpy(r io.Reader) (descr string, shape []int32, data []byte, err error) {
	preamble:=make([]byte, len(npyMagic)+4)
	if _, err=io.ReadFull(r, preamble); err!=nil { return "", nil, nil, err }
	if string(preamble[:len(npyMagic)])!=npyMagic {
		return "", nil, nil, fmt.Errorf("not an npy member")
	}
	if preamble[6]!=1 {
		return "", nil, nil, fmt.Errorf("unsupported npy version %d.%d", preamble[6], preamble[7])
	}

	headerLen:=int(preamble[8]) | int(preamble[9])<<8
	header:=make([]byte, headerLen)
	if _, err=io.ReadFull(r, header); err!=nil { return "", nil, nil, err }

	m:=npyHeaderRE.FindSubmatch(header)
	if m==nil { return "", nil, nil, fmt.Errorf("malformed npy header %q", string(header)) }
	if string(m[2])!="False" { return "", nil, nil, fmt.Errorf("fortran order unsupported") }

	descr=string(m[1])
	for _,dim:=range strings.Split(string(m[3]), ",") {
		dim=strings.TrimSpace(dim)
		if dim=="" { continue }
		n, err:=strconv.Atoi(dim)
		if err!=nil { return "", nil, nil, err }
		shape=append(shape, int32(n))
	}

	data, err=io.ReadAll(r)
	return descr, shape, data, err
}

func toFloat32ArrayLE(descr string, data []byte) ([]float32, error) {
	if descr!="<f4" { return nil, fmt.Errorf("unsupported dtype %s, need <f4", descr) }
	if len(data)%4!=0 { return nil, fmt.Errorf("truncated float32 data of %d bytes", len(data)) }

	res:=make([]float32, len(data)/4)
	for i:=range res {
		bits:=uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		res[i]=math.Float32frombits(bits)
	}
	return res, nil
}
