package services

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/keisueke/show-discord/internal/answersync"
	"github.com/keisueke/show-discord/internal/models"
	"github.com/keisueke/show-discord/internal/replica"
)

const (
	testDebounce = time.Second
	testStall    = 5 * time.Second
)

type session struct {
	t      *testing.T
	net    *replica.Network
	clock  *clockwork.FakeClock
	ids    []string
	stores map[string]*replica.MemoryStore
	peers  map[string]*Coordinator
	left   map[string]bool
}

func testBank(t *testing.T, questions ...models.Question) *QuestionBank {
	t.Helper()
	if len(questions) == 0 {
		questions = []models.Question{
			{Text: "How many cats?", Category: "life"},
			{Text: "How many dogs?", Category: "life"},
			{Text: "How many birds?", Category: "knowledge"},
			{Text: "How many fish?", Category: "knowledge"},
			{Text: "How many cows?", Category: "money"},
		}
	}
	bank, err := NewQuestionBank(questions)
	if err != nil {
		t.Fatalf("build bank: %v", err)
	}
	return bank
}

func newSession(t *testing.T, net *replica.Network, bank *QuestionBank, ids ...string) *session {
	t.Helper()
	s := &session{
		t:      t,
		net:    net,
		clock:  clockwork.NewFakeClock(),
		stores: make(map[string]*replica.MemoryStore),
		peers:  make(map[string]*Coordinator),
		left:   make(map[string]bool),
	}
	for _, id := range ids {
		s.join(id, bank)
	}
	s.settle()
	return s
}

func (s *session) join(id string, bank *QuestionBank, opts ...Option) *Coordinator {
	store := s.net.Join(id)
	base := []Option{
		WithClock(s.clock),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithDoubleChance(0),
		WithQuestionBank(bank),
		WithDebounce(testDebounce),
		WithSyncStall(testStall),
	}
	c := NewCoordinator(store, append(base, opts...)...)
	c.Publish(models.Profile{DisplayName: "Player " + id})
	s.ids = append(s.ids, id)
	s.stores[id] = store
	s.peers[id] = c
	return c
}

func (s *session) leave(id string) {
	s.net.Leave(id)
	s.left[id] = true
}

// settle delivers everything in flight and lets every connected peer reconcile.
func (s *session) settle() {
	for i := 0; i < 3; i++ {
		s.net.DeliverAll()
		for _, id := range s.ids {
			if !s.left[id] {
				s.peers[id].Reconcile()
			}
		}
	}
	s.net.DeliverAll()
}

// reveal settles and waits out the reveal debounce.
func (s *session) reveal() {
	s.settle()
	s.clock.Advance(testDebounce)
	s.settle()
}

func (s *session) phase(id string) models.Phase {
	return readGlobal(s.stores[id], keyPhase, models.Phase(""))
}

func (s *session) state(id string) *snapshot {
	return loadSnapshot(s.stores[id])
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func firstCandidate(t *testing.T, c *Coordinator) models.Question {
	t.Helper()
	v := c.View()
	if len(v.QuestionCandidates) == 0 {
		t.Fatal("expected question candidates")
	}
	return v.QuestionCandidates[0]
}

func TestAdminElectedOnJoin(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b", "c")
	for _, id := range s.ids {
		if got := s.state(id).AdminID; got != "a" {
			t.Errorf("peer %s: expected admin a, got %q", id, got)
		}
	}
	if got := s.state("b").PlayerOrder; !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected player order %v", got)
	}
}

func TestStartGameRequiresAdmin(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")

	if err := s.peers["b"].StartGame(); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if got := s.phase("a"); got != models.PhaseLobby {
		t.Fatalf("rejected action changed phase to %s", got)
	}

	mustOK(t, s.peers["a"].StartGame())
	s.settle()

	st := s.state("b")
	if st.Phase != models.PhaseQuestionSelection {
		t.Errorf("expected QUESTION_SELECTION, got %s", st.Phase)
	}
	if st.QuestionerID != "a" || st.CurrentRound != 1 {
		t.Errorf("expected a to ask in round 1, got %q round %d", st.QuestionerID, st.CurrentRound)
	}
	if len(st.QuestionCandidates) != CandidateCount {
		t.Errorf("expected %d candidates, got %d", CandidateCount, len(st.QuestionCandidates))
	}
	if st.QuestionSeq != 1 {
		t.Errorf("expected questionSeq 1, got %d", st.QuestionSeq)
	}
	for _, id := range s.ids {
		if !st.slots[id].Acknowledged(1) {
			t.Errorf("expected %s to acknowledge generation 1", id)
		}
	}

	if err := s.peers["a"].StartGame(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("expected ErrWrongPhase on second start, got %v", err)
	}
}

func TestFullRoundRevealsAfterDebounce(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b", "c")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()

	if err := s.peers["b"].SelectQuestion(firstCandidate(t, s.peers["b"])); !errors.Is(err, ErrNotQuestioner) {
		t.Fatalf("expected ErrNotQuestioner, got %v", err)
	}
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()

	st := s.state("a")
	if st.Phase != models.PhaseQuestion || st.QuestionSeq != 2 {
		t.Fatalf("expected QUESTION at generation 2, got %s at %d", st.Phase, st.QuestionSeq)
	}
	if st.WaitingForSync {
		t.Error("expected waitingForSync cleared once every peer acknowledged")
	}

	mustOK(t, s.peers["a"].SubmitAnswer(10))
	mustOK(t, s.peers["b"].SubmitAnswer(20))
	s.settle()
	if got := s.phase("a"); got != models.PhaseQuestion {
		t.Fatalf("expected to keep waiting for c, got %s", got)
	}

	mustOK(t, s.peers["c"].SubmitAnswer(30))
	s.settle()
	if got := s.phase("a"); got != models.PhaseQuestion {
		t.Fatalf("expected reveal to wait for the debounce, got %s", got)
	}

	s.clock.Advance(testDebounce)
	s.settle()

	st = s.state("c")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if st.Result == nil || st.Result.Median != 20 {
		t.Fatalf("expected median 20, got %+v", st.Result)
	}
	want := map[string]int{"a": -50, "b": 100, "c": -50}
	if !reflect.DeepEqual(st.Scores, want) {
		t.Errorf("expected scores %v, got %v", want, st.Scores)
	}
}

func TestAnswerCanChangeBeforeReveal(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()

	mustOK(t, s.peers["b"].SubmitAnswer(1))
	mustOK(t, s.peers["b"].SubmitAnswer(2))
	if v := s.peers["b"].View(); v.MyAnswer == nil || *v.MyAnswer != 2 {
		t.Errorf("expected latest answer 2, got %v", v.MyAnswer)
	}
	if err := s.peers["b"].SubmitAnswer(math.NaN()); !errors.Is(err, answersync.ErrNotFinite) {
		t.Errorf("expected ErrNotFinite, got %v", err)
	}
}

func TestRoundsExhaustToRanking(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	mustOK(t, s.peers["a"].UpdateSettings(models.Settings{MaxRounds: 1, TimeLimitSeconds: 10}))
	mustOK(t, s.peers["a"].StartGame())
	s.settle()

	for turn, questioner := range []string{"a", "b"} {
		if got := s.state("a").QuestionerID; got != questioner {
			t.Fatalf("turn %d: expected questioner %s, got %q", turn, questioner, got)
		}
		mustOK(t, s.peers[questioner].SelectQuestion(firstCandidate(t, s.peers[questioner])))
		s.settle()
		mustOK(t, s.peers["a"].SubmitAnswer(5))
		mustOK(t, s.peers["b"].SubmitAnswer(5))
		s.reveal()
		if got := s.phase("b"); got != models.PhaseReveal {
			t.Fatalf("turn %d: expected REVEAL, got %s", turn, got)
		}
		if err := s.peers["b"].NextRound(); !errors.Is(err, ErrNotAdmin) {
			t.Fatalf("expected ErrNotAdmin, got %v", err)
		}
		mustOK(t, s.peers["a"].NextRound())
		s.settle()
	}

	st := s.state("b")
	if st.Phase != models.PhaseRanking {
		t.Fatalf("expected RANKING, got %s", st.Phase)
	}
	if st.QuestionerID != "" {
		t.Errorf("expected no questioner in ranking, got %q", st.QuestionerID)
	}
	want := map[string]int{"a": 200, "b": 200}
	if !reflect.DeepEqual(st.Scores, want) {
		t.Errorf("expected scores %v, got %v", want, st.Scores)
	}

	mustOK(t, s.peers["a"].BackToLobby())
	s.settle()
	if got := s.phase("b"); got != models.PhaseLobby {
		t.Errorf("expected LOBBY, got %s", got)
	}
}

func TestStaleAnswerIsNotCounted(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()
	seq := s.state("a").QuestionSeq

	mustOK(t, s.peers["a"].SubmitAnswer(10))

	// b's answer from the previous generation lands after the new one opened, and its
	// answerSeq write overtakes the answer it belongs to.
	b := s.stores["b"]
	b.WriteOwn(answersync.AnswerKey, encode(answersync.Answer{Value: 99, Seq: seq - 1}))
	b.WriteOwn(answersync.AnswerSeqKey, encode(seq))

	s.reveal()
	if got := s.phase("a"); got != models.PhaseQuestion {
		t.Fatalf("stale answer triggered a reveal: phase %s", got)
	}
	if v := s.peers["a"].View(); v.AnsweredCount != 1 || v.ExpectedCount != 2 {
		t.Errorf("expected 1 of 2 answered, got %d of %d", v.AnsweredCount, v.ExpectedCount)
	}

	mustOK(t, s.peers["b"].SubmitAnswer(20))
	s.reveal()
	st := s.state("a")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if st.Result.Median != 10 {
		t.Errorf("expected median 10 from the fresh answers, got %v", st.Result.Median)
	}
}

func TestLateResetKeepsFreshAnswer(t *testing.T) {
	net := replica.NewNetwork(replica.WithManualDelivery())
	s := newSession(t, net, testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))

	// b sees the new question before the reset call reaches it.
	net.Deliver(func(m replica.Message) bool { return m.To == "b" && m.Kind != replica.KindCall })
	if got := s.phase("b"); got != models.PhaseQuestion {
		t.Fatalf("expected b to see QUESTION, got %s", got)
	}
	mustOK(t, s.peers["b"].SubmitAnswer(42))
	mustOK(t, s.peers["a"].SubmitAnswer(50))

	s.reveal()
	st := s.state("a")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	want := map[string]int{"b": 100}
	if st.Result.Median != 42 || !reflect.DeepEqual(st.Result.ScoreChanges, want) {
		t.Errorf("expected b's answer to survive the late reset, got %+v", st.Result)
	}
}

func TestWaitingForSyncAndStall(t *testing.T) {
	net := replica.NewNetwork(replica.WithManualDelivery())
	s := newSession(t, net, testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))

	a := s.peers["a"]
	wait := a.Reconcile()
	if !s.state("a").WaitingForSync {
		t.Fatal("expected waitingForSync while b has not acknowledged")
	}
	if wait != testStall {
		t.Errorf("expected a stall timer of %v, got %v", testStall, wait)
	}
	if a.View().SyncStalled {
		t.Error("should not be stalled yet")
	}

	s.clock.Advance(testStall)
	a.Reconcile()
	if !a.View().SyncStalled {
		t.Error("expected stall hint after the stall window")
	}

	s.settle()
	if s.state("a").WaitingForSync {
		t.Error("expected waitingForSync cleared after delivery")
	}
	if a.View().SyncStalled {
		t.Error("expected stall hint cleared after delivery")
	}
}

func TestAnswerRejectedUntilQuestionArrives(t *testing.T) {
	net := replica.NewNetwork(replica.WithManualDelivery())
	s := newSession(t, net, testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	seq := s.state("a").QuestionSeq

	// b gets the reset and the phase change, but the new questionSeq is still in flight.
	net.Deliver(func(m replica.Message) bool {
		return m.To == "b" && !(m.Kind == replica.KindGlobal && m.Key == keyQuestionSeq.name)
	})
	if got := s.phase("b"); got != models.PhaseQuestion {
		t.Fatalf("expected b to see QUESTION, got %s", got)
	}
	if err := s.peers["b"].SubmitAnswer(20); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("expected ErrNotSynced, got %v", err)
	}
	slot := s.state("b").slots["b"]
	if slot.AnswerSeq != seq || slot.Answer != nil {
		t.Fatalf("expected b to keep answerSeq %d with no answer, got %+v", seq, slot)
	}

	s.settle()
	mustOK(t, s.peers["b"].SubmitAnswer(20))
	mustOK(t, s.peers["a"].SubmitAnswer(10))
	s.reveal()
	st := s.state("a")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if st.WaitingForSync {
		t.Error("expected waitingForSync cleared")
	}
	if st.Result.Median != 10 {
		t.Errorf("expected median 10, got %v", st.Result.Median)
	}
}

func TestLateJoinerReopensSyncWait(t *testing.T) {
	bank := testBank(t)
	s := newSession(t, replica.NewNetwork(), bank, "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()
	if s.state("a").WaitingForSync {
		t.Fatal("expected a and b to have acknowledged the question")
	}
	mustOK(t, s.peers["a"].SubmitAnswer(10))
	s.settle()

	s.join("c", bank)
	s.settle()
	st := s.state("a")
	if st.Phase != models.PhaseQuestion {
		t.Fatalf("expected QUESTION, got %s", st.Phase)
	}
	if st.slots["c"].Acknowledged(st.QuestionSeq) {
		t.Fatal("late joiner should not have acknowledged the question")
	}
	if !st.WaitingForSync {
		t.Error("expected waitingForSync while the late joiner has not acknowledged")
	}
	if !s.state("c").WaitingForSync {
		t.Error("expected waitingForSync replicated to the late joiner")
	}

	mustOK(t, s.peers["c"].SubmitAnswer(30))
	mustOK(t, s.peers["b"].SubmitAnswer(20))
	s.reveal()
	st = s.state("a")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if st.WaitingForSync {
		t.Error("expected waitingForSync cleared once everyone answered")
	}
	if st.Result.Median != 20 {
		t.Errorf("expected median 20, got %v", st.Result.Median)
	}
}

func TestForceRevealScoresOnlySyncedAnswers(t *testing.T) {
	net := replica.NewNetwork(replica.WithManualDelivery())
	s := newSession(t, net, testBank(t), "a", "b", "c")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))

	// c never hears about the new question.
	net.Deliver(func(m replica.Message) bool { return m.To == "b" })
	mustOK(t, s.peers["a"].SubmitAnswer(10))
	mustOK(t, s.peers["b"].SubmitAnswer(30))
	net.Deliver(func(m replica.Message) bool { return m.To == "a" })

	if err := s.peers["b"].ForceStartReveal(); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	mustOK(t, s.peers["a"].ForceStartReveal())

	st := s.state("a")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if _, ok := st.Result.ScoreChanges["c"]; ok {
		t.Errorf("unsynchronized player was scored: %v", st.Result.ScoreChanges)
	}
	want := map[string]int{"a": 100}
	if !reflect.DeepEqual(st.Result.ScoreChanges, want) {
		t.Errorf("expected changes %v, got %v", want, st.Result.ScoreChanges)
	}
}

func TestDegenerateForceReveal(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()

	mustOK(t, s.peers["a"].ForceStartReveal())
	st := s.state("b")
	if st.Phase != models.PhaseReveal {
		t.Fatalf("expected REVEAL, got %s", st.Phase)
	}
	if st.Result.Median != 0 || len(st.Result.ScoreChanges) != 0 {
		t.Errorf("expected empty result, got %+v", st.Result)
	}
}

func TestActionCannotSkipPhases(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	a := s.peers["a"]

	err := a.do("jump_to_ranking", guard{role: roleAdmin}, func(*snapshot) ([]command, error) {
		return []command{set(keyCurrentRound, 9), set(keyPhase, models.PhaseRanking)}, nil
	})
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
	st := s.state("b")
	if st.Phase != models.PhaseLobby || st.CurrentRound != 0 {
		t.Errorf("rejected action left writes behind: phase %s round %d", st.Phase, st.CurrentRound)
	}

	mustOK(t, a.StartGame())
	if got := s.state("b").Phase; got != models.PhaseQuestionSelection {
		t.Errorf("expected QUESTION_SELECTION, got %s", got)
	}
}

func TestAdminSelfHealing(t *testing.T) {
	net := replica.NewNetwork(replica.WithManualDelivery())
	s := newSession(t, net, testBank(t), "a", "b", "c")

	s.leave("a")
	// b and c both notice before hearing from each other.
	s.peers["b"].Reconcile()
	s.peers["c"].Reconcile()
	s.settle()

	for _, id := range []string{"b", "c"} {
		if got := s.state(id).AdminID; got != "b" {
			t.Errorf("peer %s: expected admin b, got %q", id, got)
		}
	}
	mustOK(t, s.peers["b"].StartGame())
}

func TestQuestionerLeavingPassesTurn(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b", "c")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	seq := s.state("b").QuestionSeq

	s.leave("a")
	s.settle()

	st := s.state("c")
	if st.AdminID != "b" {
		t.Errorf("expected b to become admin, got %q", st.AdminID)
	}
	if st.QuestionerID != "b" || st.Phase != models.PhaseQuestionSelection {
		t.Errorf("expected b to ask next, got %q in %s", st.QuestionerID, st.Phase)
	}
	if st.QuestionSeq != seq+1 {
		t.Errorf("expected a new generation, got %d after %d", st.QuestionSeq, seq)
	}
	if !reflect.DeepEqual(st.PlayerOrder, []string{"a", "b", "c"}) {
		t.Errorf("player order must keep departed players, got %v", st.PlayerOrder)
	}
}

func TestTransferAdmin(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	if err := s.peers["a"].TransferAdmin("zz"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	mustOK(t, s.peers["a"].TransferAdmin("b"))
	s.settle()
	if got := s.state("a").AdminID; got != "b" {
		t.Fatalf("expected admin b, got %q", got)
	}
	if err := s.peers["a"].StartGame(); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("expected former admin to be rejected, got %v", err)
	}
	if !s.peers["b"].View().IsAdmin {
		t.Error("expected b's view to report admin")
	}
}

func TestPersonalQuestionFlow(t *testing.T) {
	bank := testBank(t, models.Question{Text: "How many books has {player} read?", Category: models.CategoryPersonal})
	s := newSession(t, replica.NewNetwork(), bank, "a", "b")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	seq := s.state("a").QuestionSeq

	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()
	st := s.state("b")
	if st.Phase != models.PhasePlayerSelection {
		t.Fatalf("expected PLAYER_SELECTION, got %s", st.Phase)
	}
	if st.QuestionSeq != seq {
		t.Errorf("player selection must not open a generation, got %d", st.QuestionSeq)
	}

	if err := s.peers["a"].SelectPlayerForQuestion("zz"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	mustOK(t, s.peers["a"].SelectPlayerForQuestion("b"))
	s.settle()

	v := s.peers["b"].View()
	if v.Phase != models.PhaseQuestion {
		t.Fatalf("expected QUESTION, got %s", v.Phase)
	}
	if v.QuestionText != "How many books has Player b read?" {
		t.Errorf("unexpected question text %q", v.QuestionText)
	}
	if v.CurrentQuestion == nil || v.CurrentQuestion.TargetID != "b" {
		t.Errorf("expected target b, got %+v", v.CurrentQuestion)
	}
}

func TestSelectUnknownQuestion(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a")
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	err := s.peers["a"].SelectQuestion(models.Question{Text: "made up", Category: "life"})
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestDoubleScoreRound(t *testing.T) {
	net := replica.NewNetwork()
	s := &session{
		t:      t,
		net:    net,
		clock:  clockwork.NewFakeClock(),
		stores: make(map[string]*replica.MemoryStore),
		peers:  make(map[string]*Coordinator),
		left:   make(map[string]bool),
	}
	bank := testBank(t)
	for _, id := range []string{"a", "b", "c"} {
		s.join(id, bank, WithDoubleChance(1))
	}
	s.settle()

	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	if !s.state("b").IsDoubleScore {
		t.Fatal("expected a double-score round")
	}
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()
	mustOK(t, s.peers["a"].SubmitAnswer(10))
	mustOK(t, s.peers["b"].SubmitAnswer(20))
	mustOK(t, s.peers["c"].SubmitAnswer(30))
	s.reveal()

	want := map[string]int{"a": -100, "b": 200, "c": -100}
	if got := s.state("a").Scores; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBackToLobbyAndResetSession(t *testing.T) {
	s := newSession(t, replica.NewNetwork(), testBank(t), "a", "b")
	custom := models.Settings{MaxRounds: 5, TimeLimitSeconds: 45}
	mustOK(t, s.peers["a"].UpdateSettings(custom))
	if err := s.peers["a"].UpdateSettings(models.Settings{}); !errors.Is(err, models.ErrInvalidMaxRounds) {
		t.Errorf("expected ErrInvalidMaxRounds, got %v", err)
	}
	mustOK(t, s.peers["a"].StartGame())
	s.settle()
	mustOK(t, s.peers["a"].SelectQuestion(firstCandidate(t, s.peers["a"])))
	s.settle()
	mustOK(t, s.peers["b"].SubmitAnswer(3))
	seq := s.state("a").QuestionSeq

	if err := s.peers["b"].BackToLobby(); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	mustOK(t, s.peers["a"].BackToLobby())
	s.settle()

	st := s.state("b")
	if st.Phase != models.PhaseLobby {
		t.Fatalf("expected LOBBY, got %s", st.Phase)
	}
	if st.QuestionSeq != seq+1 {
		t.Errorf("expected generation bump, got %d after %d", st.QuestionSeq, seq)
	}
	if st.CurrentQuestion != nil || st.QuestionerID != "" || st.CurrentRound != 0 || len(st.Scores) != 0 {
		t.Errorf("expected round state cleared, got %+v", st.RoundState)
	}
	if st.Settings != custom {
		t.Errorf("back to lobby must keep settings, got %+v", st.Settings)
	}
	if st.slots["b"].Answer != nil {
		t.Errorf("expected b's answer cleared, got %+v", st.slots["b"].Answer)
	}

	mustOK(t, s.peers["a"].ResetSession())
	s.settle()
	if got := s.state("b").Settings; got != models.DefaultSettings() {
		t.Errorf("expected default settings after reset, got %+v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	net := replica.NewNetwork()
	store := net.Join("solo")
	c := NewCoordinator(store, WithClock(clockwork.NewFakeClock()), WithQuestionBank(testBank(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for readGlobal(store, keyAdminID, "") != "solo" {
		if time.Now().After(deadline) {
			t.Fatal("run loop never elected an admin")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}
