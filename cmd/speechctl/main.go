// speechctl is a command-line client for the speechd HTTP service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Flag names.
const (
	flagURL        = "url"
	flagText       = "text"
	flagScript     = "script"
	flagVoices     = "voices"
	flagFormat     = "format"
	flagSpeed      = "speed"
	flagOutput     = "output"
	flagHealth     = "health"
	flagListVoices = "list-voices"
)

// Flag descriptions.
const (
	flagURLDesc        = "Base URL of the speechd service"
	flagTextDesc       = "Text or script to convert to speech"
	flagScriptDesc     = "Path to a script file to convert to speech"
	flagVoicesDesc     = "Comma-separated voice names, one per speaker index"
	flagFormatDesc     = "Output audio format (wav, mp3, flac, aac, opus, pcm, m4a)"
	flagSpeedDesc      = "Playback speed factor (0.25-4.0)"
	flagOutputDesc     = "Output file path"
	flagHealthDesc     = "Check service health and exit"
	flagListVoicesDesc = "List available voices and exit"
)

// Defaults.
const (
	defaultURL        = "http://localhost:8000"
	defaultFormat     = "wav"
	defaultOutputFile = "output.wav"
	requestTimeout    = 10 * time.Minute
	healthTimeout     = 10 * time.Second
)

// Error messages.
const (
	errTextOrScriptRequired = "either --text or --script must be provided"
	errCannotSpecifyBoth    = "cannot specify both --text and --script"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url        string
	text       string
	script     string
	voices     string
	format     string
	speed      float64
	output     string
	health     bool
	listVoices bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	if flags.health {
		return checkHealth(flags.url)
	}

	if flags.listVoices {
		return listVoices(flags.url)
	}

	return generate(flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.script, flagScript, "", flagScriptDesc)
	flag.StringVar(&flags.voices, flagVoices, "", flagVoicesDesc)
	flag.StringVar(&flags.format, flagFormat, defaultFormat, flagFormatDesc)
	flag.Float64Var(&flags.speed, flagSpeed, 1.0, flagSpeedDesc)
	flag.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.BoolVar(&flags.listVoices, flagListVoices, false, flagListVoicesDesc)
	flag.Parse()

	return flags
}

// checkHealth queries /health and prints the reported status.
func checkHealth(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	body, err := getJSON(ctx, baseURL+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Printf("status: %s\nbackend: %s\n", body["status"], body["backend"])

	return nil
}

// listVoices prints the service's voice inventory.
func listVoices(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, baseURL+"/v1/vibevoice/voices", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Voices []struct {
			Name      string   `json:"name"`
			Aliases   []string `json:"aliases"`
			Language  string   `json:"language"`
			Available bool     `json:"available"`
		} `json:"voices"`
	}

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return fmt.Errorf("failed to decode voice list: %w", err)
	}

	for _, info := range body.Voices {
		marker := " "
		if !info.Available {
			marker = "!"
		}

		line := fmt.Sprintf("%s %s (%s)", marker, info.Name, info.Language)
		if len(info.Aliases) > 0 {
			line += " aliases: " + strings.Join(info.Aliases, ", ")
		}

		fmt.Println(line)
	}

	return nil
}

// generate renders a script through /v1/vibevoice/generate and writes the
// audio to the output file.
func generate(flags appFlags) error {
	script, err := resolveScript(flags)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"script": script,
		"format": flags.format,
		"speed":  flags.speed,
	}
	if flags.voices != "" {
		payload["voices"] = strings.Split(flags.voices, ",")
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		flags.url+"/v1/vibevoice/generate", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("service returned %s: %s", resp.Status, string(detail))
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultOutputFile
		if flags.format != defaultFormat {
			outputPath = "output." + flags.format
		}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio response: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Generated: %s (%d bytes)\n", outputPath, len(audioData))

	return nil
}

// resolveScript returns the script text from --text or --script.
func resolveScript(flags appFlags) (string, error) {
	if flags.text == "" && flags.script == "" {
		flag.Usage()

		return "", errors.New(errTextOrScriptRequired)
	}

	if flags.text != "" && flags.script != "" {
		return "", errors.New(errCannotSpecifyBoth)
	}

	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.script)
	if err != nil {
		return "", fmt.Errorf("failed to read script file: %w", err)
	}

	return string(data), nil
}

// getJSON fetches a URL and decodes its JSON object body.
func getJSON(ctx context.Context, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return body, nil
}
