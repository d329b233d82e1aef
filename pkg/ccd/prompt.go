package ccd

import(
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PromptHDU asks the user which of `hdus` to use, re-asking (with the
// valid range) until it gets a good answer. It returns ErrNoSuchHDU if
// the input runs out first.
func PromptHDU(in io.Reader, out io.Writer, filename string, hdus []HDUInfo) (int, error) {
	if len(hdus) == 0 {
		return -1, fmt.Errorf("'%s': %w", filename, ErrNoSuchHDU)
	}

	valid := map[int]bool{}
	indices := []string{}
	fmt.Fprintf(out, "%s has %d image extensions:\n", filename, len(hdus))
	for _, hi := range hdus {
		fmt.Fprintf(out, "  %s\n", hi)
		valid[hi.Index] = true
		indices = append(indices, strconv.Itoa(hi.Index))
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "Select HDU [%s]: ", strings.Join(indices, ","))
		if !scanner.Scan() {
			return -1, fmt.Errorf("'%s': no selection made: %w", filename, ErrNoSuchHDU)
		}

		if n, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && valid[n] {
			return n, nil
		}
		fmt.Fprintf(out, "Invalid selection, choose one of %s\n", strings.Join(indices, ","))
	}
}

// ResolveHDU picks the HDU to load: `hdu` if it is set (>= 0), else
// the only image HDU, else whatever the user picks via PromptHDU.
func ResolveHDU(filename string, hdu int, in io.Reader, out io.Writer) (int, error) {
	if hdu >= 0 {
		return hdu, nil
	}

	infos, err := ListHDUs(filename)
	if err != nil {
		return -1, err
	}

	images := ImageHDUs(infos)
	switch len(images) {
	case 0:
		return -1, fmt.Errorf("'%s' has no 2D image HDUs: %w", filename, ErrNoSuchHDU)
	case 1:
		return images[0].Index, nil
	}

	if in == nil {
		return -1, fmt.Errorf("'%s' has %d image HDUs, and none was chosen: %w", filename, len(images), ErrNoSuchHDU)
	}
	return PromptHDU(in, out, filename, images)
}
