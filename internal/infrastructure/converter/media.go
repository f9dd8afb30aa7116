package converter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"
)

// Images and audio carry no text; they are described by their metadata.

type imageConverter struct{}

func NewImageConverter() FormatConverter {
	return &imageConverter{}
}

func (c *imageConverter) Name() string { return "image" }

func (c *imageConverter) SupportedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff"}
}

func (c *imageConverter) Convert(_ context.Context, src Source) (string, error) {
	props := [][2]string{}

	switch src.Ext {
	case ".bmp":
		head := readHead(src, 26)
		if len(head) < 26 || string(head[:2]) != "BM" {
			return "", invalidInput("convert image", "Invalid or corrupt image file", errors.New("bad bmp header"))
		}
		w := int32(binary.LittleEndian.Uint32(head[18:22]))
		h := int32(binary.LittleEndian.Uint32(head[22:26]))
		if h < 0 {
			h = -h
		}
		props = append(props, [2]string{"Format", "BMP"}, [2]string{"Dimensions", fmt.Sprintf("%d x %d px", w, h)})
	case ".tiff":
		head := readHead(src, 4)
		if !bytes.Equal(head, []byte("II*\x00")) && !bytes.Equal(head, []byte("MM\x00*")) {
			return "", invalidInput("convert image", "Invalid or corrupt image file", errors.New("bad tiff header"))
		}
		props = append(props, [2]string{"Format", "TIFF"})
	default:
		cfg, format, err := image.DecodeConfig(io.NewSectionReader(src.Reader, 0, src.Size))
		if err != nil {
			return "", invalidInput("convert image", "Invalid or corrupt image file", err)
		}
		props = append(props,
			[2]string{"Format", strings.ToUpper(format)},
			[2]string{"Dimensions", fmt.Sprintf("%d x %d px", cfg.Width, cfg.Height)},
		)
	}

	props = append(props, [2]string{"File size", humanSize(src.Size)})
	return describe(src.Name, props), nil
}

type audioConverter struct{}

func NewAudioConverter() FormatConverter {
	return &audioConverter{}
}

func (c *audioConverter) Name() string { return "audio" }

func (c *audioConverter) SupportedExtensions() []string {
	return []string{".mp3", ".wav", ".m4a", ".flac"}
}

func (c *audioConverter) Convert(_ context.Context, src Source) (string, error) {
	head := readHead(src, 42)
	var props [][2]string

	switch src.Ext {
	case ".wav":
		info, err := wavInfo(src)
		if err != nil {
			return "", invalidInput("convert audio", "Invalid or corrupt audio file", err)
		}
		props = append(props, [2]string{"Format", "WAV"})
		props = append(props, info...)
	case ".flac":
		if len(head) < 26 || string(head[:4]) != "fLaC" {
			return "", invalidInput("convert audio", "Invalid or corrupt audio file", errors.New("bad flac header"))
		}
		props = append(props, [2]string{"Format", "FLAC"})
		props = append(props, flacInfo(head[8:])...)
	case ".mp3":
		id3 := len(head) >= 3 && string(head[:3]) == "ID3"
		frameSync := len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
		if !id3 && !frameSync {
			return "", invalidInput("convert audio", "Invalid or corrupt audio file", errors.New("bad mp3 header"))
		}
		props = append(props, [2]string{"Format", "MP3"})
	case ".m4a":
		if len(head) < 8 || string(head[4:8]) != "ftyp" {
			return "", invalidInput("convert audio", "Invalid or corrupt audio file", errors.New("bad m4a header"))
		}
		props = append(props, [2]string{"Format", "M4A"})
	}

	props = append(props, [2]string{"File size", humanSize(src.Size)})
	return describe(src.Name, props), nil
}

func wavInfo(src Source) ([][2]string, error) {
	head := readHead(src, 12)
	if len(head) < 12 || string(head[:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		return nil, errors.New("bad riff header")
	}

	var (
		channels, bits     uint16
		sampleRate         uint32
		byteRate, dataSize uint32
		haveFmt, haveData  bool
	)
	chunk := make([]byte, 8)
	for off := int64(12); off+8 <= src.Size; {
		if _, err := src.Reader.ReadAt(chunk, off); err != nil {
			return nil, err
		}
		id := string(chunk[:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:]))
		switch id {
		case "fmt ":
			body := make([]byte, 16)
			if _, err := src.Reader.ReadAt(body, off+8); err != nil {
				return nil, err
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			byteRate = binary.LittleEndian.Uint32(body[8:12])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			dataSize = uint32(size)
			haveData = true
		}
		if haveFmt && haveData {
			break
		}
		off += 8 + size + size%2
	}
	if !haveFmt {
		return nil, errors.New("missing fmt chunk")
	}

	props := [][2]string{
		{"Channels", fmt.Sprint(channels)},
		{"Sample rate", fmt.Sprintf("%d Hz", sampleRate)},
		{"Bits per sample", fmt.Sprint(bits)},
	}
	if haveData && byteRate > 0 {
		d := time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second))
		props = append(props, [2]string{"Duration", d.Round(time.Millisecond).String()})
	}
	return props, nil
}

// flacInfo reads the STREAMINFO block that must follow the magic.
func flacInfo(info []byte) [][2]string {
	if len(info) < 18 {
		return nil
	}
	b := info[10:18]
	sampleRate := uint32(b[0])<<12 | uint32(b[1])<<4 | uint32(b[2])>>4
	channels := (b[2]>>1)&0x7 + 1
	bits := (b[2]&0x1)<<4 | b[3]>>4 + 1
	total := uint64(b[3]&0x0F)<<32 | uint64(binary.BigEndian.Uint32(b[4:8]))

	props := [][2]string{
		{"Channels", fmt.Sprint(channels)},
		{"Sample rate", fmt.Sprintf("%d Hz", sampleRate)},
		{"Bits per sample", fmt.Sprint(bits)},
	}
	if sampleRate > 0 && total > 0 {
		d := time.Duration(float64(total) / float64(sampleRate) * float64(time.Second))
		props = append(props, [2]string{"Duration", d.Round(time.Millisecond).String()})
	}
	return props
}

func readHead(src Source, n int) []byte {
	buf := make([]byte, n)
	read, _ := src.Reader.ReadAt(buf, 0)
	return buf[:read]
}

func describe(name string, props [][2]string) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(name)
	b.WriteString("\n\n")
	for _, p := range props {
		fmt.Fprintf(&b, "- %s: %s\n", p[0], p[1])
	}
	return b.String()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
