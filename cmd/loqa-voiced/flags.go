package main

import (
	"flag"
	"io"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// cliFlags are the command line settings. They are parsed before the config
// file is read and applied on top of it, so only flags that were actually
// given override file and environment values.
type cliFlags struct {
	serverConfig string
	envFile      string
	version      bool
	debug        bool

	host            string
	port            int
	model           string
	modelConfig     string
	speaker         optionalInt
	lengthScale     optionalFloat
	noiseScale      optionalFloat
	noiseW          optionalFloat
	sentenceSilence optionalFloat
	cuda            bool
	dataDirs        stringList
	downloadDir     string
	updateVoices    bool

	set map[string]bool
}

// flagAliases maps alternate spellings to the canonical flag name.
var flagAliases = map[string]string{
	"m":                "model",
	"c":                "config",
	"s":                "speaker",
	"length_scale":     "length-scale",
	"noise_scale":      "noise-scale",
	"noise_w":          "noise-w",
	"sentence_silence": "sentence-silence",
	"data_dir":         "data-dir",
	"download_dir":     "download-dir",
	"update_voices":    "update-voices",
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	f := &cliFlags{set: map[string]bool{}}
	fs := flag.NewFlagSet("loqa-voiced", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.serverConfig, "server-config", "", "Path to YAML server configuration file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Optional .env file with LOQA_* settings")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")
	fs.BoolVar(&f.debug, "debug", false, "Log DEBUG messages")

	fs.StringVar(&f.host, "host", "", "HTTP server host")
	fs.IntVar(&f.port, "port", 0, "HTTP server port")
	stringVar(fs, &f.model, "Path to onnx model file or voice name", "model", "m")
	stringVar(fs, &f.modelConfig, "Path to model config file", "config", "c")
	varAliases(fs, &f.speaker, "Id of speaker", "speaker", "s")
	varAliases(fs, &f.lengthScale, "Phoneme length", "length-scale", "length_scale")
	varAliases(fs, &f.noiseScale, "Generator noise", "noise-scale", "noise_scale")
	varAliases(fs, &f.noiseW, "Phoneme width noise", "noise-w", "noise_w")
	varAliases(fs, &f.sentenceSilence, "Seconds of silence after each sentence", "sentence-silence", "sentence_silence")
	fs.BoolVar(&f.cuda, "cuda", false, "Use GPU")
	varAliases(fs, &f.dataDirs, "Data directory to check for downloaded models (repeatable)", "data-dir", "data_dir")
	stringVar(fs, &f.downloadDir, "Directory to download voices into (default: first data dir)", "download-dir", "download_dir")
	boolVar(fs, &f.updateVoices, "Download latest voices.json during startup", "update-voices", "update_voices")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		name := fl.Name
		if canonical, ok := flagAliases[name]; ok {
			name = canonical
		}
		f.set[name] = true
	})
	return f, nil
}

func stringVar(fs *flag.FlagSet, p *string, usage string, names ...string) {
	for _, name := range names {
		fs.StringVar(p, name, "", usage)
	}
}

func boolVar(fs *flag.FlagSet, p *bool, usage string, names ...string) {
	for _, name := range names {
		fs.BoolVar(p, name, false, usage)
	}
}

func varAliases(fs *flag.FlagSet, v flag.Value, usage string, names ...string) {
	for _, name := range names {
		fs.Var(v, name, usage)
	}
}

// apply copies every flag that was given onto cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["host"] {
		cfg.HTTP.Bind = f.host
	}
	if f.set["port"] {
		cfg.HTTP.Port = f.port
	}
	if f.set["model"] {
		cfg.Voice.Model = f.model
	}
	if f.set["config"] {
		cfg.Voice.ModelConfig = f.modelConfig
	}
	if f.speaker.value != nil {
		cfg.Synthesis.SpeakerID = f.speaker.value
	}
	if f.lengthScale.value != nil {
		cfg.Synthesis.LengthScale = f.lengthScale.value
	}
	if f.noiseScale.value != nil {
		cfg.Synthesis.NoiseScale = f.noiseScale.value
	}
	if f.noiseW.value != nil {
		cfg.Synthesis.NoiseW = f.noiseW.value
	}
	if f.sentenceSilence.value != nil {
		cfg.Synthesis.SentenceSilence = f.sentenceSilence.value
	}
	if f.set["cuda"] {
		cfg.Voice.UseCUDA = f.cuda
	}
	if len(f.dataDirs) > 0 {
		cfg.Voice.DataDirs = append(cfg.Voice.DataDirs, f.dataDirs...)
	}
	if f.set["download-dir"] {
		cfg.Voice.DownloadDir = f.downloadDir
	}
	if f.set["update-voices"] {
		cfg.Voice.UpdateVoices = f.updateVoices
	}
	if f.debug {
		cfg.Telemetry.LogLevel = "debug"
	}
}

type optionalInt struct{ value *int }

func (o *optionalInt) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return strconv.Itoa(*o.value)
}

func (o *optionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	o.value = &v
	return nil
}

type optionalFloat struct{ value *float64 }

func (o *optionalFloat) String() string {
	if o == nil || o.value == nil {
		return ""
	}
	return strconv.FormatFloat(*o.value, 'f', -1, 64)
}

func (o *optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	o.value = &v
	return nil
}

type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}
