/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package cache

import "strings"

// mediaTypeJavaScript is named because it is both a table value and part
// of the charset-carrying comparison below.
const mediaTypeJavaScript = "application/javascript"

const mediaTypeOctetStream = "application/octet-stream"

// mediaTypes maps file extensions, matched case-insensitively with the
// leading dot stripped, to media types.
var mediaTypes = map[string]string{
	"css":   "text/css",
	"gif":   "image/gif",
	"html":  "text/html",
	"ico":   "image/vnd.microsoft.icon",
	"jfi":   "image/jpeg",
	"jif":   "image/jpeg",
	"jig":   "image/jpeg",
	"jpe":   "image/jpeg",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"js":    mediaTypeJavaScript,
	"md":    "text/markdown",
	"otc":   "font/otf",
	"otf":   "font/otf",
	"png":   "image/png",
	"svg":   "image/svg+xml",
	"tif":   "image/tiff",
	"tiff":  "image/tiff",
	"ttc":   "font/otf",
	"tte":   "font/ttf",
	"ttf":   "font/ttf",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
}

// mediaTypeProperties derives the media type and optional charset for a
// site-relative path: unknown extensions fall back to
// application/octet-stream with no charset, and text/* plus
// application/javascript always carry charset=utf-8.
func mediaTypeProperties(path string) (mediaType, charset string) {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 || dot == len(path)-1 {
		return mediaTypeOctetStream, ""
	}

	ext := strings.ToLower(path[dot+1:])

	mt, ok := mediaTypes[ext]
	if !ok {
		return mediaTypeOctetStream, ""
	}

	if strings.HasPrefix(mt, "text/") || mt == mediaTypeJavaScript {
		return mt, "utf-8"
	}

	return mt, ""
}
