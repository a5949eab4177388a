package tiss

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

const ansNamespace = "http://www.ans.gov.br/padroes/tiss/schemas"

// TUSS procedures are table 22 in the TISS terminology.
const tussTable = "22"

type xmlMessage struct {
	XMLName  xml.Name     `xml:"ans:mensagemTISS"`
	XMLNS    string       `xml:"xmlns:ans,attr"`
	Header   xmlHeader    `xml:"ans:cabecalho"`
	Body     xmlBody      `xml:"ans:prestadorParaOperadora"`
	Epilogue *xmlEpilogue `xml:"ans:epilogo,omitempty"`
}

type xmlHeader struct {
	Transaction struct {
		Type     string `xml:"ans:tipoTransacao"`
		Sequence int64  `xml:"ans:sequencialTransacao"`
		Date     string `xml:"ans:dataRegistroTransacao"`
		Time     string `xml:"ans:horaRegistroTransacao"`
	} `xml:"ans:identificacaoTransacao"`
	ProviderCode string `xml:"ans:origem>ans:identificacaoPrestador>ans:codigoPrestadorNaOperadora"`
	ANSCode      string `xml:"ans:destino>ans:registroANS"`
	Version      string `xml:"ans:Padrao"`
}

type xmlBody struct {
	BatchNumber int64         `xml:"ans:loteGuias>ans:numeroLote"`
	SADT        []xmlSADT     `xml:"ans:loteGuias>ans:guiasTISS>ans:guiaSP-SADT"`
	Consultas   []xmlConsulta `xml:"ans:loteGuias>ans:guiasTISS>ans:guiaConsulta"`
}

type xmlProcedure struct {
	Table       string `xml:"ans:codigoTabela"`
	Code        string `xml:"ans:codigoProcedimento"`
	Description string `xml:"ans:descricaoProcedimento,omitempty"`
}

type xmlExecuted struct {
	Date      string       `xml:"ans:dataExecucao"`
	Procedure xmlProcedure `xml:"ans:procedimento"`
	Quantity  int          `xml:"ans:quantidadeExecutada"`
	Unit      string       `xml:"ans:valorUnitario"`
	Total     string       `xml:"ans:valorTotal"`
}

type xmlSADT struct {
	ANSCode       string        `xml:"ans:cabecalhoGuia>ans:registroANS"`
	GuideNumber   string        `xml:"ans:cabecalhoGuia>ans:numeroGuiaPrestador"`
	Authorization string        `xml:"ans:dadosAutorizacao>ans:numeroGuiaOperadora,omitempty"`
	CardNumber    string        `xml:"ans:dadosBeneficiario>ans:numeroCarteira"`
	Procedures    []xmlExecuted `xml:"ans:procedimentosExecutados>ans:procedimentoExecutado"`
	ProceduresSum string        `xml:"ans:valorTotal>ans:valorProcedimentos"`
	GrandTotal    string        `xml:"ans:valorTotal>ans:valorTotalGeral"`
}

type xmlConsulta struct {
	ANSCode     string       `xml:"ans:cabecalhoConsulta>ans:registroANS"`
	GuideNumber string       `xml:"ans:cabecalhoConsulta>ans:numeroGuiaPrestador"`
	CardNumber  string       `xml:"ans:beneficiario>ans:numeroCarteira"`
	Date        string       `xml:"ans:dadosAtendimento>ans:dataAtendimento"`
	Procedure   xmlProcedure `xml:"ans:dadosAtendimento>ans:procedimento"`
	Value       string       `xml:"ans:dadosAtendimento>ans:valorProcedimento"`
}

type xmlEpilogue struct {
	Hash string `xml:"ans:hash"`
}

// money renders cents the way TISS expects decimal values.
func money(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// BuildBatchXML renders the lote for plan with the given sequence. Guides
// must carry their items. It returns the document and its epilogue hash.
func BuildBatchXML(plan *Plan, sequence int64, guides []*Guide, at time.Time) ([]byte, string, error) {
	msg := xmlMessage{XMLNS: ansNamespace}
	msg.Header.Transaction.Type = "ENVIO_LOTE_GUIAS"
	msg.Header.Transaction.Sequence = sequence
	msg.Header.Transaction.Date = at.Format("2006-01-02")
	msg.Header.Transaction.Time = at.Format("15:04:05")
	msg.Header.ProviderCode = plan.ProviderCode
	msg.Header.ANSCode = plan.ANSCode
	msg.Header.Version = plan.TISSVersion
	msg.Body.BatchNumber = sequence

	for _, g := range guides {
		number := strconv.FormatInt(g.GuideNumber, 10)
		switch g.Kind {
		case KindConsulta:
			if len(g.Items) == 0 {
				return nil, "", fmt.Errorf("guide %d has no items", g.GuideNumber)
			}
			it := g.Items[0]
			msg.Body.Consultas = append(msg.Body.Consultas, xmlConsulta{
				ANSCode:     plan.ANSCode,
				GuideNumber: number,
				CardNumber:  deref(g.CardNumber),
				Date:        it.PerformedAt.Format("2006-01-02"),
				Procedure:   xmlProcedure{Table: tussTable, Code: it.TUSSCode},
				Value:       money(it.Total()),
			})
		default:
			sadt := xmlSADT{
				ANSCode:       plan.ANSCode,
				GuideNumber:   number,
				Authorization: deref(g.AuthorizationNumber),
				CardNumber:    deref(g.CardNumber),
				ProceduresSum: money(g.TotalCents),
				GrandTotal:    money(g.TotalCents),
			}
			for _, it := range g.Items {
				sadt.Procedures = append(sadt.Procedures, xmlExecuted{
					Date:      it.PerformedAt.Format("2006-01-02"),
					Procedure: xmlProcedure{Table: tussTable, Code: it.TUSSCode, Description: it.Description},
					Quantity:  it.Quantity,
					Unit:      money(it.UnitCents),
					Total:     money(it.Total()),
				})
			}
			msg.Body.SADT = append(msg.Body.SADT, sadt)
		}
	}

	body, err := xml.Marshal(msg)
	if err != nil {
		return nil, "", fmt.Errorf("marshal batch: %w", err)
	}
	hash, err := contentHash(body)
	if err != nil {
		return nil, "", err
	}
	msg.Epilogue = &xmlEpilogue{Hash: hash}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(msg); err != nil {
		return nil, "", fmt.Errorf("marshal batch: %w", err)
	}
	return buf.Bytes(), hash, nil
}

// contentHash is the MD5 of every text node concatenated in document order,
// which is how the epilogue hash is defined.
func contentHash(doc []byte) (string, error) {
	h := md5.New()
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hash batch: %w", err)
		}
		if cd, ok := tok.(xml.CharData); ok {
			h.Write(bytes.TrimSpace(cd))
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHash recomputes the epilogue hash of a stored document.
func VerifyHash(doc []byte, hash string) (bool, error) {
	// Drop the epilogue before hashing.
	end := bytes.Index(doc, []byte("<ans:epilogo>"))
	if end < 0 {
		return false, fmt.Errorf("document has no epilogue")
	}
	got, err := contentHash(append(append([]byte{}, doc[:end]...), []byte("</ans:mensagemTISS>")...))
	if err != nil {
		return false, err
	}
	return got == hash, nil
}
