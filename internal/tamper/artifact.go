package tamper

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	// register decoders for uploaded receipt images
	_ "image/jpeg"
	_ "image/png"

	"github.com/ledongthuc/pdf"
	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	xdraw "golang.org/x/image/draw"
)

// ErrNoQRFound means the artifact was readable but contained no decodable
// QR code. Distinct from both ArtifactError and a tamper verdict.
var ErrNoQRFound = errors.New("no QR code found in artifact")

// ErrBadPayload means a QR code was found but its payload is not a receipt
// payload this system issued.
var ErrBadPayload = errors.New("QR payload is not a valid receipt payload")

// ArtifactError marks a file that could not be read as a receipt artifact
// (corrupt, truncated, password protected).
type ArtifactError struct {
	Reason string
	Err    error
}

func (e *ArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// scanPDFPages caps how much of a large PDF is scanned for a QR code.
const scanPDFPages = 3

// extractImageQR decodes a QR payload from an uploaded receipt image.
func extractImageQR(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", &ArtifactError{Reason: "failed to decode image", Err: err}
	}

	return decodeQR(img)
}

// decodeQR runs several decode attempts against the bitmap: a plain pass,
// a try-harder pass, and a pass over a 2x upscale for QR codes rendered too
// small to sample cleanly.
func decodeQR(img image.Image) (string, error) {
	if text, err := decodeQROnce(img, nil); err == nil {
		return text, nil
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	if text, err := decodeQROnce(img, hints); err == nil {
		return text, nil
	}
	if text, err := decodeQROnce(upscale(img, 2), hints); err == nil {
		return text, nil
	}

	return "", ErrNoQRFound
}

func decodeQROnce(img image.Image, hints map[gozxing.DecodeHintType]interface{}) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}

	result, err := zxqrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}

	return result.GetText(), nil
}

func upscale(img image.Image, factor int) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// extractPDF pulls the text layer and the QR payload out of a PDF receipt.
// The text of every scanned page is concatenated so the tamper check sees
// the same content a reader does.
func extractPDF(r io.ReaderAt, size int64) (string, string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", "", &ArtifactError{
			Reason: "failed to load PDF file, it may be corrupted or password protected",
			Err:    err,
		}
	}

	maxPages := reader.NumPage()
	if maxPages > scanPDFPages {
		maxPages = scanPDFPages
	}

	var textParts []string
	qrData := ""

	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		pageText, images := scanPage(reader, pageNum)
		if pageText != "" {
			textParts = append(textParts, pageText)
		}

		if qrData == "" {
			for _, img := range images {
				if text, err := decodeQR(img); err == nil {
					qrData = text
					break
				}
			}
		}
	}

	if qrData == "" {
		return "", "", ErrNoQRFound
	}

	return strings.Join(textParts, " "), qrData, nil
}

// scanPage extracts the text layer and the embedded images of one page.
// The pdf library panics on malformed page structures; a bad page is
// skipped rather than failing the whole artifact.
func scanPage(reader *pdf.Reader, pageNum int) (text string, images []image.Image) {
	defer func() {
		if recover() != nil {
			text, images = "", nil
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", nil
	}

	text, _ = page.GetPlainText(nil)

	xobjects := page.V.Key("Resources").Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return text, nil
	}

	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Kind() != pdf.Stream || obj.Key("Subtype").Name() != "Image" {
			continue
		}
		if img := decodeImageXObject(obj); img != nil {
			images = append(images, img)
		}
	}

	return text, images
}

// decodeImageXObject rebuilds a bitmap from a raster image XObject. Flate
// streams with 8-bit RGB or 1/8-bit gray samples cover the PNG-style
// embeds that receipt generators produce for QR codes; anything else
// (including filters the pdf library cannot decode) is skipped.
func decodeImageXObject(obj pdf.Value) (img image.Image) {
	defer func() {
		if recover() != nil {
			img = nil
		}
	}()

	width := int(obj.Key("Width").Int64())
	height := int(obj.Key("Height").Int64())
	bits := int(obj.Key("BitsPerComponent").Int64())
	colorSpace := obj.Key("ColorSpace").Name()

	if width <= 0 || height <= 0 {
		return nil
	}

	rc := obj.Reader()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}

	switch {
	case colorSpace == "DeviceRGB" && bits == 8:
		return rgbImage(data, width, height)
	case colorSpace == "DeviceGray" && bits == 8:
		return grayImage(data, width, height)
	case colorSpace == "DeviceGray" && bits == 1:
		return bilevelImage(data, width, height)
	}

	return nil
}

func rgbImage(data []byte, width, height int) image.Image {
	if len(data) < width*height*3 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := (y*width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = data[src]
			img.Pix[dst+1] = data[src+1]
			img.Pix[dst+2] = data[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	return img
}

func grayImage(data []byte, width, height int) image.Image {
	if len(data) < width*height {
		return nil
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+width], data[y*width:])
	}
	return img
}

func bilevelImage(data []byte, width, height int) image.Image {
	rowBytes := (width + 7) / 8
	if len(data) < rowBytes*height {
		return nil
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*rowBytes:]
		for x := 0; x < width; x++ {
			if row[x/8]&(0x80>>(x%8)) != 0 {
				img.Pix[y*img.Stride+x] = 0xff
			}
		}
	}
	return img
}
