package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/media-service/internal/client"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Flag defaults and messages.
const (
	defaultServerURL      = "http://localhost:5000"
	msgServiceHealthy     = "media-service at %s is healthy\n"
	msgSaved              = "Saved %s (%s, %s) from job %s\n"
	msgChunkSaved         = "Chunk %d/%d saved to %s (%s)\n"
	errTextOrChunks       = "either --text, --file, or --chunks must be provided"
	errTextAndChunks      = "--chunks cannot be combined with --text or --file"
	errChunksNeedOutDir   = "--chunks requires --output to name a directory"
	errCommandRequired    = "--command is required"
	chunkFileNameTemplate = "chunk_%03d%s"
	fallbackDownloadName  = "media-output"
)

type clientFlags struct {
	serverURL string
	timeout   time.Duration
}

func newRootCommand() *cobra.Command {
	flags := &clientFlags{}

	rootCmd := &cobra.Command{
		Use:           "media-client",
		Short:         "Send jobs to a running media-service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.serverURL, "server", "s", defaultServerURL, "media-service base URL")
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", client.DefaultTimeout, "Per-request timeout")

	rootCmd.AddCommand(newHealthCommand(flags))
	rootCmd.AddCommand(newSynthesizeCommand(flags))
	rootCmd.AddCommand(newTranscribeCommand(flags))
	rootCmd.AddCommand(newTranscodeCommand(flags))

	return rootCmd
}

func (f *clientFlags) client() *client.Client {
	return client.New(f.serverURL, f.timeout)
}

func newHealthCommand(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := flags.client().Health(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), msgServiceHealthy, flags.serverURL)

			return nil
		},
	}
}

type synthesizeFlags struct {
	text     string
	textFile string
	chunks   string
	voice    string
	rate     string
	pitch    string
	output   string
}

func newSynthesizeCommand(flags *clientFlags) *cobra.Command {
	opts := &synthesizeFlags{}

	cmd := &cobra.Command{
		Use:     "synthesize",
		Aliases: []string{"tts"},
		Short:   "Convert text to speech",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.chunks != "" {
				return synthesizeChunks(cmd, flags.client(), opts)
			}

			text, err := opts.resolveText()
			if err != nil {
				return err
			}

			return saveDownload(cmd, opts.output, func(dst io.Writer) (*client.Download, error) {
				return flags.client().Synthesize(cmd.Context(), opts.request(text), dst)
			})
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "Text to convert to speech")
	cmd.Flags().StringVar(&opts.textFile, "file", "", "Read the text from a file")
	cmd.Flags().StringVar(&opts.chunks, "chunks", "", "JSON file holding an array of text chunks, one job each")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "Voice name (service default when empty)")
	cmd.Flags().StringVar(&opts.rate, "rate", "", "Speaking rate, e.g. +10%")
	cmd.Flags().StringVar(&opts.pitch, "pitch", "", "Pitch shift, e.g. -5Hz")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file, or directory for --chunks")

	return cmd
}

func (o *synthesizeFlags) resolveText() (string, error) {
	if o.textFile != "" {
		data, err := os.ReadFile(o.textFile)
		if err != nil {
			return "", fmt.Errorf("failed to read text file: %w", err)
		}

		return string(data), nil
	}

	if strings.TrimSpace(o.text) == "" {
		return "", errors.New(errTextOrChunks)
	}

	return o.text, nil
}

func (o *synthesizeFlags) request(text string) client.SynthesizeRequest {
	return client.SynthesizeRequest{Text: text, Voice: o.voice, Rate: o.rate, Pitch: o.pitch}
}

// synthesizeChunks runs one synthesize job per chunk and numbers the outputs.
func synthesizeChunks(cmd *cobra.Command, apiClient *client.Client, opts *synthesizeFlags) error {
	if opts.text != "" || opts.textFile != "" {
		return errors.New(errTextAndChunks)
	}

	if opts.output == "" {
		return errors.New(errChunksNeedOutDir)
	}

	data, err := os.ReadFile(opts.chunks)
	if err != nil {
		return fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return fmt.Errorf("failed to parse chunks file %s: %w", opts.chunks, err)
	}

	err = os.MkdirAll(opts.output, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for index, chunk := range chunks {
		partial := filepath.Join(opts.output, fmt.Sprintf(chunkFileNameTemplate, index+1, ".part"))

		download, chunkErr := writeFile(partial, func(dst io.Writer) (*client.Download, error) {
			return apiClient.Synthesize(cmd.Context(), opts.request(chunk), dst)
		})
		if chunkErr != nil {
			return fmt.Errorf("chunk %d: %w", index+1, chunkErr)
		}

		final := filepath.Join(opts.output, fmt.Sprintf(chunkFileNameTemplate, index+1, filepath.Ext(download.Filename)))

		err = os.Rename(partial, final)
		if err != nil {
			return fmt.Errorf("failed to finalize chunk %d: %w", index+1, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), msgChunkSaved, index+1, len(chunks), final,
			humanize.Bytes(uint64(max(download.Size, 0))))
	}

	return nil
}

func newTranscribeCommand(flags *clientFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file to subtitle text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subtitle, err := flags.client().Transcribe(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), subtitle)

				return err
			}

			err = os.WriteFile(output, []byte(subtitle), 0o600)
			if err != nil {
				return fmt.Errorf("failed to write subtitle: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the subtitle to a file instead of stdout")

	return cmd
}

func newTranscodeCommand(flags *clientFlags) *cobra.Command {
	var (
		template string
		output   string
	)

	cmd := &cobra.Command{
		Use:     "transcode <video-file>",
		Aliases: []string{"ffmpeg"},
		Short:   "Run a transcoder command template against a video",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(template) == "" {
				return errors.New(errCommandRequired)
			}

			return saveDownload(cmd, output, func(dst io.Writer) (*client.Download, error) {
				return flags.client().Transcode(cmd.Context(), args[0], template, dst)
			})
		},
	}

	cmd.Flags().StringVar(&template, "command", "", "Command template using the INPUT and OUTPUT placeholders")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the name the service suggests)")

	return cmd
}

// saveDownload streams a response to a temporary file in the output
// directory, then renames it to output or to the server-suggested name.
func saveDownload(cmd *cobra.Command, output string, fetch func(io.Writer) (*client.Download, error)) error {
	dir := "."
	if output != "" {
		dir = filepath.Dir(output)
	}

	partial, err := os.CreateTemp(dir, ".media-client-*.part")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	partialPath := partial.Name()
	_ = partial.Close()

	download, err := writeFile(partialPath, fetch)
	if err != nil {
		_ = os.Remove(partialPath)

		return err
	}

	final := output
	if final == "" {
		name := filepath.Base(download.Filename)
		if download.Filename == "" || name == "." || name == string(filepath.Separator) {
			name = fallbackDownloadName
		}

		final = filepath.Join(dir, name)
	}

	err = os.Rename(partialPath, final)
	if err != nil {
		_ = os.Remove(partialPath)

		return fmt.Errorf("failed to save %s: %w", final, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), msgSaved, final, download.MimeType,
		humanize.Bytes(uint64(max(download.Size, 0))), download.JobID)

	return nil
}

func writeFile(path string, fetch func(io.Writer) (*client.Download, error)) (*client.Download, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	download, fetchErr := fetch(file)
	closeErr := file.Close()

	if fetchErr != nil {
		_ = os.Remove(path)

		return nil, fetchErr
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close %s: %w", path, closeErr)
	}

	return download, nil
}
