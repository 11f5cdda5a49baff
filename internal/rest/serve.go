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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"

	"github.com/snrlab/patchlight/internal/ops"
	"github.com/snrlab/patchlight/internal/pairs"
)


func Serve(port int) {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",    getPing)
			v1.POST("/scan",    postScan)
			v1.POST("/extract", postExtract)
		}
	}
	r.Run(fmt.Sprintf(":%d", port)) // listen and serve on 0.0.0.0:port
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postScanArgs struct {
	BaseDir     string   `json:"baseDir"`
	SourceDirs  []string `json:"sourceDirs"`
	TargetDir   string   `json:"targetDir"`
	Axes        string   `json:"axes"`
}

// Lists the image pairs a given directory layout would yield, without
// reading any pixel data
func postScan(c *gin.Context)  {
	var args postScanArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Axes=="" { args.Axes="YX" }

	ps, err:=pairs.Scan(args.BaseDir, args.SourceDirs, args.TargetDir, args.Axes)
	if err!=nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ps), "pairs": ps})
}

type postExtractArgs struct {
	Extract  *ops.OpExtract  `json:"extract"`
}

// Runs a full patch extraction described by a JSON operator tree,
// streaming progress as plain text
func postExtract(c *gin.Context) {
	logWriter := c.Writer
	var args postExtractArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Extract==nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing extract operator" } )
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	oc:=ops.NewContext(logWriter)
	if _, err:=args.Extract.MakePromises(nil, oc); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()

	return
}
