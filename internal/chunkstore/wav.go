package chunkstore

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// remuxWAV decodes every chunk's PCM and rewrites the artifact as one
// well-formed WAV so the container's duration metadata matches the audio.
// All chunks must share format parameters; any mismatch aborts the remux and
// leaves the raw concatenation in place.
func (s *Store) remuxWAV(jobID string, total int, artifactPath string) error {
	var format *audio.Format
	bitDepth := 0
	buffers := make([]*audio.IntBuffer, 0, total)

	for i := 0; i < total; i++ {
		data, err := s.Read(jobID, i)
		if err != nil {
			return err
		}
		dec := wav.NewDecoder(bytes.NewReader(data))
		if !dec.IsValidFile() {
			return fmt.Errorf("chunk %d is not a valid wav file", i)
		}
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return fmt.Errorf("decode chunk %d: %w", i, err)
		}
		if format == nil {
			format = buf.Format
			bitDepth = int(dec.BitDepth)
		} else if buf.Format.SampleRate != format.SampleRate || buf.Format.NumChannels != format.NumChannels || int(dec.BitDepth) != bitDepth {
			return fmt.Errorf("chunk %d format mismatch", i)
		}
		buffers = append(buffers, buf)
	}
	if format == nil {
		return fmt.Errorf("no chunks decoded")
	}

	tmp := artifactPath + ".remux"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create remux file: %w", err)
	}

	enc := wav.NewEncoder(out, format.SampleRate, bitDepth, format.NumChannels, 1)
	for i, buf := range buffers {
		if err := enc.Write(buf); err != nil {
			enc.Close()
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close remux file: %w", err)
	}
	if err := os.Rename(tmp, artifactPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}
