package distill

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/models"
	"github.com/thinkscotty/glimpse/internal/retry"
)

const catText = "The cat sat on the mat. The cat slept."

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Name() string { return "mock" }

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func TestFrequencySummary(t *testing.T) {
	s, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)

	got, err := s.Produce(context.Background(), catText, models.CategorySummary)
	require.NoError(t, err)
	assert.Equal(t, "cat mat sat slept", got)
	assert.LessOrEqual(t, len(strings.Fields(got)), 10)
}

func TestFrequencyIsDeterministic(t *testing.T) {
	f := NewFrequency(10, 5)
	text := "zeta alpha beta gamma delta alpha beta zeta epsilon"
	first, _ := f.Produce(context.Background(), text, models.CategorySummary)
	for i := 0; i < 20; i++ {
		again, _ := f.Produce(context.Background(), text, models.CategorySummary)
		require.Equal(t, first, again)
	}
	assert.Equal(t, "alpha beta zeta delta epsilon gamma", first)
}

func TestDescriptionHasExactlyThreeTokens(t *testing.T) {
	s, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"rich", catText, "cat mat sat"},
		{"short", "Lighthouse.", "lighthouse scene image"},
		{"empty", "", "scene image concept"},
		{"only stopwords", "the and of", "scene image concept"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Produce(context.Background(), tt.text, models.CategoryDescription)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, strings.Fields(got), 3)
		})
	}
}

func TestShapeDescription(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Stormy, moonlit harbor.", "Stormy moonlit harbor"},
		{"one two three four five", "one two three"},
		{"  -- hello --  ", "hello scene image"},
		{"\"Quiet\" winter", "Quiet winter scene"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShapeDescription(tt.in), "input %q", tt.in)
	}
}

func TestShapeSummary(t *testing.T) {
	assert.Equal(t, "a b c", ShapeSummary("a  b\nc d e", 3))
	assert.Equal(t, "a b c d e", ShapeSummary("a b c d e", 0))
	assert.Equal(t, "scene image concept", ShapeSummary("   ", 3))
}

func TestShapeKeyPoints(t *testing.T) {
	in := "Here are the key points:\n1. First\n2. Second\n* Third\n- Fourth"
	assert.Equal(t, "- First\n- Second\n- Third", ShapeKeyPoints(in, 3))
	assert.Equal(t, "- scene image concept", ShapeKeyPoints("", 3))
}

func TestFrequencyKeyPointsKeepDocumentOrder(t *testing.T) {
	text := "Rockets need fuel. Birds sing. Rockets carry fuel to orbit. Fuel is heavy."
	f := NewFrequency(10, 2)

	got, err := f.Produce(context.Background(), text, models.CategoryKeyPoints)
	require.NoError(t, err)
	assert.Equal(t, "- Rockets need fuel.\n- Rockets carry fuel to orbit.", got)
}

func TestSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Version 1.2 shipped. Done", []string{"Version 1.2 shipped.", "Done"}},
		{"Wait... what?!  ok", []string{"Wait...", "what?!", "ok"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sentences(tt.in), "input %q", tt.in)
	}
}

func TestTruncatorByRunes(t *testing.T) {
	tr := NewTruncator("", 0, 5)
	assert.Equal(t, "héllo", tr.Truncate("héllo wörld"))
	assert.Equal(t, "abc", tr.Truncate("abc"))

	unbounded := NewTruncator("", 0, 0)
	assert.Equal(t, "anything at all", unbounded.Truncate("anything at all"))
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Distill.Strategy = "markov"
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg.Distill.Strategy = StrategyChat
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrNoChatClient)
}

func TestSignatureTracksOutputSettings(t *testing.T) {
	sig := func(mutate func(*config.Config)) string {
		cfg := config.DefaultConfig()
		mutate(&cfg)
		var c Completer
		if cfg.Distill.Strategy == StrategyChat {
			c = new(mockCompleter)
		}
		s, err := New(cfg, c)
		require.NoError(t, err)
		return SignatureOf(s)
	}
	base := sig(func(*config.Config) {})
	assert.Equal(t, base, sig(func(*config.Config) {}))

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"top n", func(c *config.Config) { c.Frequency.TopN = 2 }},
		{"summary words", func(c *config.Config) { c.Distill.SummaryMaxWords = 2 }},
		{"key points max", func(c *config.Config) { c.Distill.KeyPointsMax = 1 }},
		{"similarity", func(c *config.Config) { c.Distill.KeyPointsSimilarity = 0.5 }},
		{"input chars", func(c *config.Config) { c.Distill.MaxInputChars = 10 }},
		{"strategy", func(c *config.Config) { c.Distill.Strategy = StrategySeq2Seq }},
		{"chat", func(c *config.Config) { c.Distill.Strategy = StrategyChat }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, sig(tt.mutate))
		})
	}

	seq := func(c *config.Config) { c.Distill.Strategy = StrategySeq2Seq }
	assert.NotEqual(t, sig(seq), sig(func(c *config.Config) { seq(c); c.Seq2Seq.MaxLength = 7 }))
	chat := func(c *config.Config) { c.Distill.Strategy = StrategyChat }
	assert.NotEqual(t, sig(chat), sig(func(c *config.Config) { chat(c); c.Chat.Precondense = !c.Chat.Precondense }))
}

func TestSignatureOfPlainStrategy(t *testing.T) {
	assert.Equal(t, "mock", SignatureOf(plainStrategy{}))
}

type plainStrategy struct{}

func (plainStrategy) Name() string { return "mock" }

func (plainStrategy) Produce(context.Context, string, models.Category) (string, error) {
	return "", nil
}

func TestChatStrategyPrompts(t *testing.T) {
	c := new(mockCompleter)
	c.On("Complete", mock.Anything, "Describe the following text in exactly three words suitable as a visual caption. Reply with the three words only: "+catText).
		Return("Sleepy cat, mat.", nil).Once()

	cfg := config.DefaultConfig()
	cfg.Distill.Strategy = StrategyChat
	s, err := New(cfg, c)
	require.NoError(t, err)

	got, err := s.Produce(context.Background(), catText, models.CategoryDescription)
	require.NoError(t, err)
	assert.Equal(t, "Sleepy cat mat", got)
	c.AssertExpectations(t)
}

func TestChatStrategyPrecondensesKeyPoints(t *testing.T) {
	c := new(mockCompleter)
	c.On("Complete", mock.Anything, "Create a bulleted list of key points based on the summarized content: cat mat sat slept").
		Return("* The cat sat\n* The cat slept", nil).Once()

	cfg := config.DefaultConfig()
	cfg.Distill.Strategy = StrategyChat
	cfg.Chat.Precondense = true
	s, err := New(cfg, c)
	require.NoError(t, err)

	got, err := s.Produce(context.Background(), catText, models.CategoryKeyPoints)
	require.NoError(t, err)
	assert.Equal(t, "- The cat sat\n- The cat slept", got)
	c.AssertExpectations(t)
}

func TestChatStrategyPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	c := new(mockCompleter)
	c.On("Complete", mock.Anything, mock.Anything).Return("", boom)

	cfg := config.DefaultConfig()
	cfg.Distill.Strategy = StrategyChat
	s, err := New(cfg, c)
	require.NoError(t, err)

	_, err = s.Produce(context.Background(), catText, models.CategorySummary)
	assert.ErrorIs(t, err, boom)
}

func TestSeq2SeqProduce(t *testing.T) {
	var got seq2seqRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]seq2seqOutput{{SummaryText: "A cat sat. It slept."}})
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Seq2Seq
	cfg.URL = srv.URL
	s := NewSeq2Seq(cfg)

	summary, err := s.Produce(context.Background(), catText, models.CategorySummary)
	require.NoError(t, err)
	assert.Equal(t, "A cat sat. It slept.", summary)
	assert.Equal(t, "summarize: "+catText, got.Inputs)
	assert.Equal(t, 4, got.Parameters.NumBeams)
	assert.Equal(t, 30, got.Parameters.MinLength)
	assert.Equal(t, 150, got.Parameters.MaxLength)
	assert.True(t, got.Parameters.EarlyStopping)

	points, err := s.Produce(context.Background(), catText, models.CategoryKeyPoints)
	require.NoError(t, err)
	assert.Equal(t, "- A cat sat.\n- It slept.", points)

	_, err = s.Produce(context.Background(), catText, models.CategoryDescription)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Parameters.MaxLength)
}

func TestSeq2SeqAcceptsGeneratedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"generated_text":"generated words"}]`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Seq2Seq
	cfg.URL = srv.URL
	got, err := NewSeq2Seq(cfg).Produce(context.Background(), "text", models.CategorySummary)
	require.NoError(t, err)
	assert.Equal(t, "generated words", got)
}

func TestSeq2SeqStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			cfg := config.DefaultConfig().Seq2Seq
			cfg.URL = srv.URL
			_, err := NewSeq2Seq(cfg).Produce(context.Background(), "text", models.CategorySummary)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
		})
	}
}

func TestSeq2SeqEmptyInputSkipsServer(t *testing.T) {
	cfg := config.DefaultConfig().Seq2Seq
	cfg.URL = "http://127.0.0.1:1"
	got, err := Wrap(NewSeq2Seq(cfg), nil, Shaper{}).Produce(context.Background(), "  ", models.CategoryDescription)
	require.NoError(t, err)
	assert.Equal(t, "scene image concept", got)
}

func TestSimilarityDisabled(t *testing.T) {
	for _, threshold := range []float64{0, -0.5, 1.5} {
		assert.Nil(t, NewSimilarity(threshold, 3), threshold)
	}
	var s *Similarity
	in := []string{"same", "same"}
	assert.Equal(t, in, s.Unique(in))
}

func TestJaccard(t *testing.T) {
	s := NewSimilarity(0.5, 3)
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"night", "night", 1},
		{"Night!", "night", 1},
		{"abc", "xyz", 0},
		{"abcd", "abce", 1.0 / 3.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Jaccard(s.NGrams(tt.a), s.NGrams(tt.b)), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestSimilarityShortTexts(t *testing.T) {
	s := NewSimilarity(0.8, 3)
	assert.Equal(t, map[string]struct{}{"ox": {}}, s.NGrams("Ox"))
	assert.Equal(t, []string{"ox", "ax"}, s.Unique([]string{"ox", "ax"}))
}

func TestShaperDropsNearDuplicateKeyPoints(t *testing.T) {
	shaper := Shaper{KeyPointsMax: 3, Dedupe: NewSimilarity(0.8, 3)}
	in := "1. The harbor was quiet at dawn.\n2. The harbor was quiet at dawn!\n3. Boats left before noon.\n4. Gulls followed the boats."

	got := shaper.Shape(models.CategoryKeyPoints, in)
	assert.Equal(t, "- The harbor was quiet at dawn.\n- Boats left before noon.\n- Gulls followed the boats.", got)

	// Without the filter the duplicate takes a slot.
	shaper.Dedupe = nil
	got = shaper.Shape(models.CategoryKeyPoints, in)
	assert.Equal(t, "- The harbor was quiet at dawn.\n- The harbor was quiet at dawn!\n- Boats left before noon.", got)
}
