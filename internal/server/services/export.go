package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	sc "github.com/dmitrijs2005/vitaltags/internal/server/config"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Export is the document an owner downloads. Envelope parts are included as
// base64 and stay encrypted.
type Export struct {
	Owner    ExportOwner     `json:"owner"`
	Profiles []ExportProfile `json:"profiles"`
	Meta     ExportMeta      `json:"meta"`
}

type ExportOwner struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ExportProfile struct {
	ID                 string       `json:"id"`
	PublicID           string       `json:"publicId"`
	Alias              string       `json:"alias"`
	AgeRange           string       `json:"ageRange"`
	CriticalAllergies  []string     `json:"criticalAllergies"`
	CriticalConditions []string     `json:"criticalConditions"`
	CriticalMeds       []string     `json:"criticalMeds"`
	ICEPhone           string       `json:"icePhone"`
	Revoked            bool         `json:"revoked"`
	BreakGlassAllowed  bool         `json:"breakGlassAllowed"`
	Ciphertext         []byte       `json:"c_ciphertext"`
	Nonce              []byte       `json:"c_nonce"`
	WrappedDEK         []byte       `json:"dek_wrapped"`
	Terms              []ExportTerm `json:"terms"`
	Logs               []ExportLog  `json:"logs"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

type ExportTerm struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	System      string     `json:"system,omitempty"`
	Code        string     `json:"code,omitempty"`
	Note        string     `json:"note,omitempty"`
	OnsetDate   *time.Time `json:"onsetDate,omitempty"`
	Dose        string     `json:"dose,omitempty"`
	Criticality string     `json:"criticality,omitempty"`
}

type ExportLog struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason,omitempty"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ExportMeta struct {
	Encrypted   bool      `json:"encrypted"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type ExportService struct {
	repomanager repomanager.RepositoryManager
	recorder    *audit.Recorder
	config      *sc.Config
}

func NewExportService(m repomanager.RepositoryManager, rec *audit.Recorder, config *sc.Config) *ExportService {
	return &ExportService{
		repomanager: m,
		recorder:    rec,
		config:      config,
	}
}

// GetRandomStorageKey returns a fresh object key for an export document.
func GetRandomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("exports/%d/%d/%d/%v.json.xz", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *ExportService) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Build assembles the export document for ownerID from one consistent
// snapshot.
func (s *ExportService) Build(ctx context.Context, ownerID string) (*Export, error) {
	doc := &Export{Owner: ExportOwner{ID: ownerID}, Profiles: []ExportProfile{}}

	err := s.repomanager.Snapshot(ctx, func(ctx context.Context, m repomanager.RepositoryManager) error {
		if o, err := m.Owners().Get(ctx, ownerID); err == nil {
			doc.Owner.Email, doc.Owner.Phone = o.Email, o.Phone
		}

		profiles, err := m.Profiles().ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range profiles {
			terms, err := m.Terms().ListByProfile(ctx, p.ID, "")
			if err != nil {
				return err
			}
			logs, err := m.AuditLogs().ListByProfile(ctx, p.ID, time.Time{}, 0)
			if err != nil {
				return err
			}
			doc.Profiles = append(doc.Profiles, exportProfile(p, terms, logs))
			if p.TierC.Complete() {
				doc.Meta.Encrypted = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error building export: %w", err)
	}

	doc.Meta.GeneratedAt = time.Now().UTC()
	return doc, nil
}

// Export uploads the owner's export document and returns a presigned GET
// URL for it.
func (s *ExportService) Export(ctx context.Context, ownerID string) (string, error) {
	doc, err := s.Build(ctx, ownerID)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	body, err := compress(raw)
	if err != nil {
		return "", err
	}

	client, err := s.getClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey()

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:             &bucket,
		Key:                &key,
		Body:               bytes.NewReader(body),
		ContentType:        aws.String("application/x-xz"),
		ContentDisposition: aws.String(`attachment; filename="vitaltags-export.json.xz"`),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading export: %w", err)
	}

	// Presigned GET
	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.config.ExportURLValidity))
	if err != nil {
		return "", err
	}

	for _, p := range doc.Profiles {
		s.recorder.Record(ctx, p.ID, models.EventExport, audit.Details{})
	}
	return req.URL, nil
}

// compress packs the export document as an .xz stream.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportProfile(p *models.Profile, terms []*models.Term, logs []*models.AuditEntry) ExportProfile {
	out := ExportProfile{
		ID:                 p.ID,
		PublicID:           p.PublicID,
		Alias:              p.Alias,
		AgeRange:           p.AgeRange,
		CriticalAllergies:  p.CriticalAllergies,
		CriticalConditions: p.CriticalConditions,
		CriticalMeds:       p.CriticalMeds,
		ICEPhone:           p.ICEPhone,
		Revoked:            p.Revoked,
		BreakGlassAllowed:  p.BreakGlassAllowed,
		Terms:              []ExportTerm{},
		Logs:               []ExportLog{},
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.TierC != nil {
		out.Ciphertext, out.Nonce, out.WrappedDEK = p.TierC.Ciphertext, p.TierC.Nonce, p.TierC.WrappedDEK
	}
	for _, t := range terms {
		out.Terms = append(out.Terms, ExportTerm{
			ID:          t.ID,
			Kind:        string(t.Kind),
			Slug:        t.Slug,
			Name:        t.Name,
			System:      t.System,
			Code:        t.Code,
			Note:        t.Note,
			OnsetDate:   t.OnsetDate,
			Dose:        t.Dose,
			Criticality: t.Criticality,
		})
	}
	for _, l := range logs {
		out.Logs = append(out.Logs, ExportLog{
			ID:        l.ID,
			Event:     string(l.Event),
			Reason:    l.Reason,
			Country:   l.Country,
			CreatedAt: l.CreatedAt,
		})
	}
	return out
}
