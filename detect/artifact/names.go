package artifact

import "fmt"

// DistilBERT weight names, HuggingFace state-dict spelling. Linear weights are
// stored [out, in].
const (
	WordEmbeddings     = "distilbert.embeddings.word_embeddings.weight"
	PositionEmbeddings = "distilbert.embeddings.position_embeddings.weight"
	EmbeddingNormW     = "distilbert.embeddings.LayerNorm.weight"
	EmbeddingNormB     = "distilbert.embeddings.LayerNorm.bias"
	PreClassifierW     = "pre_classifier.weight"
	PreClassifierB     = "pre_classifier.bias"
	ClassifierW        = "classifier.weight"
	ClassifierB        = "classifier.bias"
)

// Per-layer parameter suffixes for LayerParam.
const (
	AttnQ        = "attention.q_lin"
	AttnK        = "attention.k_lin"
	AttnV        = "attention.v_lin"
	AttnOut      = "attention.out_lin"
	AttnNorm     = "sa_layer_norm"
	FFNIn        = "ffn.lin1"
	FFNOut       = "ffn.lin2"
	OutputNorm   = "output_layer_norm"
	SuffixWeight = "weight"
	SuffixBias   = "bias"
)

// LayerParam names a parameter of transformer layer i, e.g.
// LayerParam(0, AttnQ, SuffixWeight).
func LayerParam(i int, module, suffix string) string {
	return fmt.Sprintf("distilbert.transformer.layer.%d.%s.%s", i, module, suffix)
}
