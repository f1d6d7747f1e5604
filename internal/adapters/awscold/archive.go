// Package awscold adapts Amazon Glacier to the core ColdArchive port.
package awscold

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"

	"github.com/arcovabio/annex/internal/core"
)

// currentAccount tells Glacier to use the credentials' own account.
const currentAccount = "-"

// Client is the subset of the Glacier API the adapter uses.
type Client interface {
	UploadArchive(ctx context.Context, params *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	InitiateJob(ctx context.Context, params *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	GetJobOutput(ctx context.Context, params *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
	DeleteArchive(ctx context.Context, params *glacier.DeleteArchiveInput, optFns ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error)
}

// Options configures a Vault.
type Options struct {
	Client Client
	// Vault is the Glacier vault name holding archived results.
	Vault string
	// RetrievalTopic is the SNS topic ARN Glacier notifies when an
	// archive-retrieval job finishes.
	RetrievalTopic string
}

// Vault is a Glacier-backed core.ColdArchive. The caller-supplied
// description is stored as the archive description and surfaces again on
// retrieval output, which lets retrieval notifications carry context
// through Glacier unchanged.
type Vault struct {
	client Client
	vault  string
	topic  string
}

var _ core.ColdArchive = (*Vault)(nil)

func New(opts Options) *Vault {
	return &Vault{client: opts.Client, vault: opts.Vault, topic: opts.RetrievalTopic}
}

func (v *Vault) Store(ctx context.Context, description string, body io.Reader) (string, error) {
	out, err := v.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId:          aws.String(currentAccount),
		VaultName:          aws.String(v.vault),
		ArchiveDescription: aws.String(description),
		Body:               body,
	})
	if err != nil {
		return "", fmt.Errorf("glacier upload: %w", err)
	}
	return aws.ToString(out.ArchiveId), nil
}

func (v *Vault) InitiateRetrieval(ctx context.Context, archiveID string, tier core.RetrievalTier) (string, error) {
	out, err := v.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(currentAccount),
		VaultName: aws.String(v.vault),
		JobParameters: &types.JobParameters{
			Type:      aws.String("archive-retrieval"),
			ArchiveId: aws.String(archiveID),
			Tier:      aws.String(string(tier)),
			SNSTopic:  aws.String(v.topic),
		},
	})
	if err != nil {
		return "", fmt.Errorf("glacier initiate retrieval: %w", err)
	}
	return aws.ToString(out.JobId), nil
}

func (v *Vault) RetrievalOutput(ctx context.Context, retrievalID string) (*core.Retrieval, error) {
	out, err := v.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(currentAccount),
		VaultName: aws.String(v.vault),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return nil, fmt.Errorf("glacier job output %s: %w", retrievalID, err)
	}
	return &core.Retrieval{
		Description: aws.ToString(out.ArchiveDescription),
		Body:        out.Body,
	}, nil
}

func (v *Vault) Delete(ctx context.Context, archiveID string) error {
	_, err := v.client.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String(currentAccount),
		VaultName: aws.String(v.vault),
		ArchiveId: aws.String(archiveID),
	})
	if err != nil {
		return fmt.Errorf("glacier delete archive: %w", err)
	}
	return nil
}
