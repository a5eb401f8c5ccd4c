package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pavelanni/examgen/internal/model"
)

// MongoStore keeps exams and grades in the "exams" and "grades"
// collections. Each document carries the JSON body of the value so it
// loads back unchanged.
type MongoStore struct {
	client *mongo.Client
	exams  *mongo.Collection
	grades *mongo.Collection
}

type examDoc struct {
	ID           string    `bson:"_id"`
	Title        string    `bson:"title"`
	NumQuestions int       `bson:"num_questions"`
	CreatedAt    time.Time `bson:"created_at"`
	Body         string    `bson:"body"`
}

type gradeDoc struct {
	ID           string    `bson:"_id"`
	ExamID       string    `bson:"exam_id"`
	Seq          int       `bson:"seq"`
	SubmissionID string    `bson:"submission_id"`
	ScorePercent float64   `bson:"score_percent"`
	GradedAt     time.Time `bson:"graded_at"`
	Body         string    `bson:"body"`
}

// mongoDBName parses the database name from the URI, defaulting to "examgen".
func mongoDBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "examgen"
	}
	return u.Path[1:]
}

// NewMongo connects to uri and verifies the connection with a ping.
func NewMongo(ctx context.Context, uri string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	name := mongoDBName(uri)
	slog.Info("using MongoDB database", "name", name)

	db := client.Database(name)
	s := &MongoStore{client: client, exams: db.Collection("exams"), grades: db.Collection("grades")}
	_, err = s.grades.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exam_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create grade index: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// SaveExam inserts the exam document. An existing id is never overwritten.
func (s *MongoStore) SaveExam(ctx context.Context, e *model.Exam) (string, error) {
	if e.ExamID == "" {
		return "", errors.New("save exam: empty exam id")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode exam: %w", err)
	}
	doc := examDoc{
		ID:           e.ExamID,
		Title:        e.Title,
		NumQuestions: len(e.Questions),
		CreatedAt:    e.CreatedAt,
		Body:         string(body),
	}
	_, err = s.exams.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		stored, lerr := s.LoadExam(ctx, e.ExamID)
		if lerr != nil {
			return "", lerr
		}
		return keepExisting(stored, e)
	}
	if err != nil {
		return "", fmt.Errorf("save exam %s: %w", e.ExamID, err)
	}
	return e.ExamID, nil
}

// LoadExam returns the exam with the given id or ErrNotFound.
func (s *MongoStore) LoadExam(ctx context.Context, id string) (*model.Exam, error) {
	var doc examDoc
	err := s.exams.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find exam %s: %w", id, err)
	}
	var e model.Exam
	if err := json.Unmarshal([]byte(doc.Body), &e); err != nil {
		return nil, fmt.Errorf("decode exam %s: %w", id, err)
	}
	return &e, nil
}

// SaveGrade inserts the next grade of the exam. A concurrent writer that
// takes the same seq loses on the unique index and gets an error.
func (s *MongoStore) SaveGrade(ctx context.Context, g *model.GradeResponse) (string, error) {
	n, err := s.exams.CountDocuments(ctx, bson.M{"_id": g.ExamID})
	if err != nil {
		return "", fmt.Errorf("check exam %s: %w", g.ExamID, err)
	}
	if n == 0 {
		return "", fmt.Errorf("exam %s: %w", g.ExamID, ErrNotFound)
	}

	seq := 1
	var last gradeDoc
	opts := options.FindOne().SetSort(bson.M{"seq": -1})
	err = s.grades.FindOne(ctx, bson.M{"exam_id": g.ExamID}, opts).Decode(&last)
	switch {
	case err == nil:
		seq = last.Seq + 1
	case !errors.Is(err, mongo.ErrNoDocuments):
		return "", fmt.Errorf("find last grade: %w", err)
	}

	body, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encode grade: %w", err)
	}
	key := gradeKey(g.ExamID, seq)
	_, err = s.grades.InsertOne(ctx, gradeDoc{
		ID:           key,
		ExamID:       g.ExamID,
		Seq:          seq,
		SubmissionID: g.SubmissionID,
		ScorePercent: g.Summary.ScorePercent,
		GradedAt:     g.GradedAt,
		Body:         string(body),
	})
	if err != nil {
		return "", fmt.Errorf("insert grade: %w", err)
	}
	return key, nil
}

// ListGrades returns grades of the exam ordered by seq.
func (s *MongoStore) ListGrades(ctx context.Context, examID string) ([]model.GradeResponse, error) {
	cur, err := s.grades.Find(ctx, bson.M{"exam_id": examID}, options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, fmt.Errorf("find grades: %w", err)
	}
	var docs []gradeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode grades: %w", err)
	}
	grades := make([]model.GradeResponse, 0, len(docs))
	for _, d := range docs {
		var g model.GradeResponse
		if err := json.Unmarshal([]byte(d.Body), &g); err != nil {
			return nil, fmt.Errorf("decode grade %s: %w", d.ID, err)
		}
		grades = append(grades, g)
	}
	return grades, nil
}

// ListExams returns exam summaries ordered by creation time.
func (s *MongoStore) ListExams(ctx context.Context) ([]ExamInfo, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"body": 0})
	cur, err := s.exams.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find exams: %w", err)
	}
	var docs []examDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode exams: %w", err)
	}
	exams := make([]ExamInfo, 0, len(docs))
	for _, d := range docs {
		exams = append(exams, ExamInfo{
			ExamID:       d.ID,
			Title:        d.Title,
			NumQuestions: d.NumQuestions,
			CreatedAt:    d.CreatedAt.UTC(),
		})
	}
	return exams, nil
}
